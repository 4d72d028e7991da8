package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/calmasset/rebalancer/internal/market"
	"github.com/pplcc/plotext"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	debugPlotWidth  = 1024
	debugPlotHeight = 320
)

// RenderPriceRelatives draws the VWAP-normalized typical-price series of both
// assets as stacked panels sharing an X range, the same view the allocator
// takes its volatility proxy over.
func RenderPriceRelatives(path, symbolA string, a []market.Bar, symbolB string, b []market.Bar) (err error) {
	pa, err := relativesPanel(symbolA, a)
	if err != nil {
		return fmt.Errorf("failed to plot %s price relatives: %w", symbolA, err)
	}

	pb, err := relativesPanel(symbolB, b)
	if err != nil {
		return fmt.Errorf("failed to plot %s price relatives: %w", symbolB, err)
	}

	plotext.UniteAxisRanges([]*plot.Axis{&pa.X, &pb.X})

	tbl := plotext.Table{
		RowHeights: []float64{1, 1},
		ColWidths:  []float64{1},
	}

	img := vgimg.New(vg.Points(debugPlotWidth), vg.Points(2*debugPlotHeight))
	dc := draw.New(img)

	canvases := tbl.Align([][]*plot.Plot{{pa}, {pb}}, dc)
	pa.Draw(canvases[0][0])
	pb.Draw(canvases[1][0])

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close plot file: %w", cerr))
		}
	}()

	png := vgimg.PngCanvas{Canvas: img}
	if _, werr := png.WriteTo(f); werr != nil {
		return fmt.Errorf("failed to write plot to file: %w", werr)
	}

	return nil
}

func relativesPanel(symbol string, bars []market.Bar) (*plot.Plot, error) {
	rel, err := priceRelatives(bars)
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = symbol
	p.Y.Label.Text = "price relative"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02\n15:04:05"}

	pts := make(plotter.XYs, len(rel))
	for i, v := range rel {
		pts[i] = plotter.XY{X: float64(bars[i].Time.Unix()), Y: v}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to create line graph: %w", err)
	}

	p.Add(line)
	return p, nil
}
