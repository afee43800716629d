package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// The trail is drawn on the floor plane: origin X across, origin Z down.
// Y is height and only appears in tooltips.

// groupBySensor splits points into per-sensor series, keeping order.
func groupBySensor(points []TrailPoint) (names []string, series map[string][]TrailPoint) {
	series = make(map[string][]TrailPoint)
	for _, p := range points {
		if _, ok := series[p.Sensor]; !ok {
			names = append(names, p.Sensor)
		}
		series[p.Sensor] = append(series[p.Sensor], p)
	}
	sort.Strings(names)
	return names, series
}

// handleTrailChart renders the pose trail as an interactive scatter.
func (ws *WebServer) handleTrailChart(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if ws.trail == nil {
		writeJSONError(w, http.StatusNotFound, "pose trail is disabled")
		return
	}

	points := ws.trail.Points()
	names, series := groupBySensor(points)

	subtitle := fmt.Sprintf("points=%d", len(points))
	if len(points) == 0 {
		subtitle = "no poses yet"
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sensor Pose Trail", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Sensor Pose Trail", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
	)

	for _, name := range names {
		data := make([]opts.ScatterData, 0, len(series[name]))
		for _, p := range series[name] {
			data = append(data, opts.ScatterData{
				Name:  p.Timestamp.String(),
				Value: []interface{}{p.X, p.Z, p.Y},
			})
		}
		scatter.AddSeries(name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

var trailPalette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
	{R: 140, G: 86, B: 75, A: 255},
	{R: 227, G: 119, B: 194, A: 255},
}

// plotTrail draws points as one line per sensor.
func plotTrail(points []TrailPoint) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Sensor Pose Trail"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	names, series := groupBySensor(points)
	for i, name := range names {
		xys := make(plotter.XYs, len(series[name]))
		for j, pt := range series[name] {
			xys[j].X = pt.X
			xys[j].Y = pt.Z
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("failed to create line for %s: %w", name, err)
		}
		line.Color = trailPalette[i%len(trailPalette)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	return p, nil
}

// handleTrailPlot renders the pose trail as a static PNG.
func (ws *WebServer) handleTrailPlot(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if ws.trail == nil {
		writeJSONError(w, http.StatusNotFound, "pose trail is disabled")
		return
	}
	points := ws.trail.Points()
	if len(points) == 0 {
		writeJSONError(w, http.StatusNotFound, "no poses yet")
		return
	}

	p, err := plotTrail(points)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	canvas := vgimg.PngCanvas{Canvas: vgimg.New(6*vg.Inch, 6*vg.Inch)}
	p.Draw(draw.New(canvas))

	var buf bytes.Buffer
	if _, err := canvas.WriteTo(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode png: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
