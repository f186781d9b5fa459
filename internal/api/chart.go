package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/httputil"
	"github.com/banshee-data/kinetic/internal/lut"
	"github.com/banshee-data/kinetic/internal/timeseries"
	"github.com/banshee-data/kinetic/internal/units"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// showChart renders the offset and rotation curves of a recording as two
// line charts on one HTML page.
func (s *Server) showChart(w http.ResponseWriter, r *http.Request, id string) {
	rec, curves := s.curves(w, r, id)
	if curves == nil {
		return
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Recording %s", id)
	page.AssetsHost = echartsAssetsHost
	page.AddCharts(
		curveChart(rec, curves, lut.KindOffset, rec.Accel),
		curveChart(rec, curves, lut.KindRotation, rec.Gyro),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// curveChart plots every curve of kind against seconds since the first
// sample of src. Points outside a curve's selected range are left empty.
func curveChart(rec *db.Recording, curves []lut.Curve, kind lut.Kind, src *timeseries.Buffer) *charts.Line {
	n := src.Len()
	xs := make([]string, n)
	var t0 int64
	if n > 0 {
		t0 = src.Time(0)
	}
	for i := 0; i < n; i++ {
		xs[i] = fmt.Sprintf("%.3f", float64(src.Time(i)-t0)/units.NanosPerSecond)
	}

	title := "Offset"
	if kind == lut.KindRotation {
		title = "Rotation"
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("recording=%s status=%s samples=%d", rec.ID, rec.Status, n)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(xs)

	for _, c := range curves {
		if c.Kind != kind {
			continue
		}
		start, end := c.Range()
		values := c.Export()
		data := make([]opts.LineData, n)
		for i := range data {
			if i >= start && i < end {
				data[i] = opts.LineData{Value: values[i-start]}
			} else {
				data[i] = opts.LineData{Value: "-"}
			}
		}
		line.AddSeries(c.Label, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}
