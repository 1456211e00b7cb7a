package e2e

import (
	"context"
	"fmt"
	"net/netip"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jiayi-1994/piesss-binder/pkg/events"
	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

var _ = Describe("Port binding", Ordered, func() {
	var (
		f   *TestFramework
		ctx context.Context
	)

	piesssSegment := []segment.Segment{segment.New("seg-e2e", types.NetworkTypePiesss, 42)}

	BeforeAll(func() {
		f = GetFramework()
		ctx = context.Background()
	})

	It("binds a pod to an uplink with a derived address", func() {
		_, err := f.CreateSegmentPod(ctx, PodConfig{Name: "bound-0", Segments: piesssSegment})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(f.DeletePodAndWait, ctx, f.TestNamespace, "bound-0", DefaultBindTimeout)

		b, err := f.WaitForBinding(ctx, f.TestNamespace, "bound-0", DefaultBindTimeout)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.SegmentID).To(Equal("seg-e2e"))
		Expect(b.VIFType).To(Equal(types.VIFTypeVhostUser))
		Expect(b.VIFDetails[types.VIFDetailsPiesssHost]).To(Equal(f.Host))

		addr, err := netip.ParseAddr(fmt.Sprint(b.VIFDetails[types.VIFDetailsPiesssIP]))
		Expect(err).NotTo(HaveOccurred())
		baseHi, _ := util.SplitAddress(f.UplinkBase)
		hi, _ := util.SplitAddress(addr)
		Expect(hi).To(Equal(baseHi), "address %s must share the uplink prefix", addr)

		_, err = f.WaitForEvent(ctx, f.TestNamespace, "bound-0", events.ReasonPortBound, DefaultBindTimeout)
		Expect(err).NotTo(HaveOccurred())
	})

	It("leaves pods on other segment types unbound", func() {
		_, err := f.CreateSegmentPod(ctx, PodConfig{
			Name:     "vlan-0",
			Segments: []segment.Segment{segment.New("seg-vlan", "vlan", 7)},
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(f.DeletePodAndWait, ctx, f.TestNamespace, "vlan-0", DefaultBindTimeout)

		_, err = f.WaitForEvent(ctx, f.TestNamespace, "vlan-0", events.ReasonPortUnbound, DefaultBindTimeout)
		Expect(err).NotTo(HaveOccurred())
	})

	It("reports exhausted capacity and binds again after a release", func() {
		var names []string
		for i := 0; i < f.PortsPerHost; i++ {
			name := fmt.Sprintf("fill-%d", i)
			_, err := f.CreateSegmentPod(ctx, PodConfig{Name: name, Segments: piesssSegment})
			Expect(err).NotTo(HaveOccurred())
			_, err = f.WaitForBinding(ctx, f.TestNamespace, name, DefaultBindTimeout)
			Expect(err).NotTo(HaveOccurred())
			names = append(names, name)
		}

		_, err := f.CreateSegmentPod(ctx, PodConfig{Name: "overflow", Segments: piesssSegment})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(f.DeletePodAndWait, ctx, f.TestNamespace, "overflow", DefaultBindTimeout)

		_, err = f.WaitForEvent(ctx, f.TestNamespace, "overflow", events.ReasonNoCapacity, DefaultBindTimeout)
		Expect(err).NotTo(HaveOccurred())

		By("releasing one port")
		Expect(f.DeletePodAndWait(ctx, f.TestNamespace, names[0], DefaultBindTimeout)).To(Succeed())

		// the controller requeues NoCapacity pods
		_, err = f.WaitForBinding(ctx, f.TestNamespace, "overflow", DefaultBindTimeout)
		Expect(err).NotTo(HaveOccurred())

		for _, name := range names[1:] {
			Expect(f.DeletePodAndWait(ctx, f.TestNamespace, name, DefaultBindTimeout)).To(Succeed())
		}
	})
})
