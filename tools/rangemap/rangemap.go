package main

import (
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"sort"

	"github.com/fogleman/gg"
	"github.com/lukeenterprise/ktf/kernel/boot"
	"github.com/lukeenterprise/ktf/kernel/mm"
	"github.com/lukeenterprise/ktf/kernel/mm/vmm"
	"github.com/lukeenterprise/ktf/multiboot"
)

const (
	rowHeight   = 28
	labelWidth  = 360
	marginWidth = 16
)

// mappedRange is an address range together with the set it belongs to.
type mappedRange struct {
	vmm.AddressRange
	kind boot.RangeKind
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[rangemap] error: %s\n", err.Error())
	os.Exit(1)
}

// loadRanges classifies the sections of a kernel image the same way the
// bring-up code does when it builds the kernel page tables.
func loadRanges(f *elf.File) []mappedRange {
	var ranges []mappedRange
	for _, sec := range f.Sections {
		if sec.Size == 0 {
			continue
		}

		flags := multiboot.ElfSectionFlag(sec.Flags & (elf.SHF_WRITE | elf.SHF_ALLOC | elf.SHF_EXECINSTR))
		r, kind := boot.SectionRange(sec.Name, flags, uintptr(sec.Addr), sec.Size)
		if kind == boot.SkippedSection {
			continue
		}
		ranges = append(ranges, mappedRange{AddressRange: r, kind: kind})
	}

	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].From < ranges[j].From })
	return ranges
}

func kindName(kind boot.RangeKind) string {
	if kind == boot.InitRange {
		return "init"
	}
	return "kernel"
}

func flagString(flags vmm.PageTableEntryFlag) string {
	perm := []byte("r--")
	if flags&vmm.FlagRW != 0 {
		perm[1] = 'w'
	}
	if flags&vmm.FlagNoExecute == 0 {
		perm[2] = 'x'
	}
	return string(perm)
}

// printRanges writes a table with one line per range.
func printRanges(w io.Writer, ranges []mappedRange) {
	for _, r := range ranges {
		pages := (mm.PageAlignUp(r.To) - mm.PageAlignDown(r.From)) >> mm.PageShift
		fmt.Fprintf(w, "%-6s %-20s %s phys [0x%08x - 0x%08x) virt 0x%016x pages %d\n",
			kindName(r.kind), r.Name, flagString(r.Flags), r.From, r.To, r.VirtStart(), pages,
		)
	}
}

// render draws the physical extent of each range as a bar on a shared axis.
// Bars cover whole pages, which is the granularity protection is applied at.
func render(ranges []mappedRange, width int) (image.Image, error) {
	if len(ranges) == 0 {
		return nil, errors.New("image contains no loadable sections")
	}

	if width <= labelWidth+2*marginWidth {
		return nil, fmt.Errorf("width must be larger than %d", labelWidth+2*marginWidth)
	}

	lo, hi := mm.PageAlignDown(ranges[0].From), uintptr(0)
	for _, r := range ranges {
		if end := mm.PageAlignUp(r.To); end > hi {
			hi = end
		}
	}

	var (
		height = (len(ranges) + 1) * rowHeight
		barMax = float64(width - labelWidth - 2*marginWidth)
		scale  = barMax / float64(hi-lo)
		dc     = gg.NewContext(width, height)
	)

	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.DrawString(fmt.Sprintf("physical image extent [0x%x - 0x%x)", lo, hi), marginWidth, rowHeight*0.66)

	for i, r := range ranges {
		y := float64((i + 1) * rowHeight)

		dc.SetRGB(0, 0, 0)
		dc.DrawString(fmt.Sprintf("%s %s %s", kindName(r.kind), r.Name, flagString(r.Flags)), marginWidth, y+rowHeight*0.66)

		x := float64(labelWidth+marginWidth) + float64(mm.PageAlignDown(r.From)-lo)*scale
		w := float64(mm.PageAlignUp(r.To)-mm.PageAlignDown(r.From)) * scale
		if w < 1 {
			w = 1
		}

		setRangeColor(dc, r)
		dc.DrawRectangle(x, y+4, w, rowHeight-8)
		dc.Fill()
	}

	return dc.Image(), nil
}

func setRangeColor(dc *gg.Context, r mappedRange) {
	switch {
	case r.kind == boot.InitRange:
		dc.SetRGB(0.6, 0.6, 0.6)
	case r.Flags&vmm.FlagNoExecute == 0:
		dc.SetRGB(0.85, 0.2, 0.2)
	case r.Flags&vmm.FlagRW != 0:
		dc.SetRGB(0.2, 0.65, 0.3)
	default:
		dc.SetRGB(0.2, 0.4, 0.85)
	}
}

func runTool() error {
	output := flag.String("out", "rangemap.png", "the PNG file to write the range map to")
	width := flag.Int("width", 1024, "the width of the generated image in pixels")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "rangemap: render the address ranges of a kernel image\n\n")
		fmt.Fprint(os.Stderr, "Usage: rangemap [options] kernel.elf\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		exit(errors.New("missing kernel image argument"))
	}

	f, err := elf.Open(flag.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	ranges := loadRanges(f)
	printRanges(os.Stdout, ranges)

	img, err := render(ranges, *width)
	if err != nil {
		return err
	}

	return gg.SavePNG(*output, img)
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
