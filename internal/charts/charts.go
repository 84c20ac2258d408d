// Package charts holds the declarative chart configurations shown on the
// page. The browser hands each Config to the charting library unchanged.
package charts

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// MaxLabelLength is the line width used when wrapping long axis labels.
const MaxLabelLength = 16

// Label is either a single string or a list of wrapped lines. It marshals to
// whichever the charting library expects.
type Label []string

func (l Label) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

type Dataset struct {
	Label                string  `json:"label"`
	Data                 []int   `json:"data"`
	BackgroundColor      any     `json:"backgroundColor,omitempty"`
	BorderColor          string  `json:"borderColor,omitempty"`
	BorderWidth          int     `json:"borderWidth,omitempty"`
	HoverOffset          int     `json:"hoverOffset,omitempty"`
	PointBackgroundColor string  `json:"pointBackgroundColor,omitempty"`
	Fill                 bool    `json:"fill,omitempty"`
	Tension              float64 `json:"tension,omitempty"`
}

type Data struct {
	Labels   []Label   `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Config is one chart: the canvas it targets plus the library configuration.
// TooltipTitles holds each label joined onto one line, index-aligned with
// Data.Labels, for the page's tooltip title callback.
type Config struct {
	CanvasID      string         `json:"canvasId"`
	Type          string         `json:"type"`
	Data          Data           `json:"data"`
	Options       map[string]any `json:"options"`
	TooltipTitles []string       `json:"tooltipTitles"`
}

// WrapLabel splits label into lines of roughly max characters on word
// boundaries. Labels no longer than max come back as a single line.
func WrapLabel(label string, max int) Label {
	if utf8.RuneCountInString(label) <= max {
		return Label{label}
	}
	var lines []string
	var current string
	for _, word := range strings.Split(label, " ") {
		if current != "" && utf8.RuneCountInString(current+word) > max {
			lines = append(lines, strings.TrimSpace(current))
			current = ""
		}
		current += word + " "
	}
	lines = append(lines, strings.TrimSpace(current))
	return Label(lines)
}

// TooltipTitle joins a wrapped label back into one line for tooltips.
func TooltipTitle(l Label) string {
	return strings.Join(l, " ")
}

func plain(labels ...string) []Label {
	out := make([]Label, len(labels))
	for i, l := range labels {
		out[i] = Label{l}
	}
	return out
}

func wrapped(labels ...string) []Label {
	out := make([]Label, len(labels))
	for i, l := range labels {
		out[i] = WrapLabel(l, MaxLabelLength)
	}
	return out
}

func baseOptions() map[string]any {
	return map[string]any{
		"responsive":          true,
		"maintainAspectRatio": false,
	}
}

func withLegendBottom(opts map[string]any) map[string]any {
	opts["plugins"] = map[string]any{
		"legend": map[string]any{"position": "bottom"},
	}
	return opts
}

// tooltipTitles joins every label of c back onto a single line.
func tooltipTitles(c Config) Config {
	c.TooltipTitles = make([]string, len(c.Data.Labels))
	for i, l := range c.Data.Labels {
		c.TooltipTitles[i] = TooltipTitle(l)
	}
	return c
}

// All returns the four charts in page order: childhood, adolescence, young
// adult and adulthood.
func All() []Config {
	childhood := withLegendBottom(baseOptions())
	childhood["cutout"] = "60%"

	adolescence := baseOptions()
	adolescence["scales"] = map[string]any{
		"y": map[string]any{
			"beginAtZero": true,
			// Intl.NumberFormat options: 300 renders as "$300".
			"ticks": map[string]any{
				"format": map[string]any{
					"style":                 "currency",
					"currency":              "USD",
					"maximumFractionDigits": 0,
				},
			},
		},
	}

	youngAdult := baseOptions()
	youngAdult["scales"] = map[string]any{
		"r": map[string]any{
			"angleLines":   map[string]any{"display": false},
			"suggestedMin": 0,
			"suggestedMax": 10,
		},
	}

	configs := []Config{
		{
			CanvasID: "childhoodChart",
			Type:     "doughnut",
			Data: Data{
				Labels: plain("Paga Semanal", "Regalos", "Pequeños Trabajos"),
				Datasets: []Dataset{{
					Label:           "Fuentes de Ingreso",
					Data:            []int{60, 25, 15},
					BackgroundColor: []string{"#00A6FB", "#F5B700", "#00E08C"},
					BorderColor:     "#fff",
					BorderWidth:     4,
					HoverOffset:     8,
				}},
			},
			Options: childhood,
		},
		{
			CanvasID: "adolescenceChart",
			Type:     "line",
			Data: Data{
				Labels: plain("Año 1", "Año 2", "Año 3", "Año 4", "Año 5"),
				Datasets: []Dataset{{
					Label:           "Ahorro con Interés Compuesto",
					Data:            []int{100, 210, 331, 464, 610},
					BackgroundColor: "rgba(245, 183, 0, 0.2)",
					BorderColor:     "#F5B700",
					BorderWidth:     3,
					Fill:            true,
					Tension:         0.3,
				}},
			},
			Options: adolescence,
		},
		{
			CanvasID: "youngAdultChart",
			Type:     "radar",
			Data: Data{
				Labels: wrapped("Bajo Riesgo (CETES)", "Riesgo Moderado (ETFs)", "Alto Riesgo (Acciones)"),
				Datasets: []Dataset{
					{
						Label:                "Potencial de Retorno",
						Data:                 []int{3, 6, 9},
						BackgroundColor:      "rgba(220, 0, 115, 0.2)",
						BorderColor:          "#DC0073",
						BorderWidth:          2,
						PointBackgroundColor: "#DC0073",
					},
					{
						Label:                "Nivel de Riesgo",
						Data:                 []int{2, 5, 8},
						BackgroundColor:      "rgba(0, 166, 251, 0.2)",
						BorderColor:          "#00A6FB",
						BorderWidth:          2,
						PointBackgroundColor: "#00A6FB",
					},
				},
			},
			Options: youngAdult,
		},
		{
			CanvasID: "adulthoodChart",
			Type:     "pie",
			Data: Data{
				Labels: wrapped("Acciones Nacionales", "Acciones Internacionales", "Bienes Raíces", "Bonos", "Alternativos"),
				Datasets: []Dataset{{
					Label:           "Distribución de Activos",
					Data:            []int{30, 25, 20, 15, 10},
					BackgroundColor: []string{"#00E08C", "#00A6FB", "#F5B700", "#DC0073", "#4b5563"},
					BorderColor:     "#fff",
					BorderWidth:     4,
					HoverOffset:     8,
				}},
			},
			Options: withLegendBottom(baseOptions()),
		},
	}
	for i := range configs {
		configs[i] = tooltipTitles(configs[i])
	}
	return configs
}

// ByCanvas returns the chart targeting canvasID.
func ByCanvas(canvasID string) (Config, bool) {
	for _, c := range All() {
		if c.CanvasID == canvasID {
			return c, true
		}
	}
	return Config{}, false
}
