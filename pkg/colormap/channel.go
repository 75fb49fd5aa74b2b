package colormap

import "strings"

type familyColor struct {
	token string
	color Color
}

// familyPriority is checked in order; the first token found in the label wins.
var familyPriority = []familyColor{
	{"DAPI", mustHex("FFFFFF")},
	{"CY3", mustHex("FFB000")},
	{"CY5", mustHex("DC267F")},
	{"CY7", mustHex("00FFFF")},
	{"FITC", mustHex("00FF00")},
}

// Fallback is the colorblind-friendly palette for labels without a family.
var Fallback = CategoricalColormap{
	colors: []Color{
		mustHex("FFB000"),
		mustHex("DC267F"),
		mustHex("00FFFF"),
		mustHex("00FF00"),
		mustHex("FE6100"),
		mustHex("785EF0"),
		mustHex("FFE119"),
		mustHex("648FFF"),
	},
}

// ChannelColor returns the display color for a channel. The result depends
// only on its arguments.
func ChannelColor(label string, index int) Color {
	upper := strings.ToUpper(label)
	for _, fc := range familyPriority {
		if strings.Contains(upper, fc.token) {
			return fc.color
		}
	}
	return Fallback.colors[wrap(index, len(Fallback.colors))]
}

// ChannelColors assigns colors to labels by position.
func ChannelColors(labels []string) []Color {
	out := make([]Color, len(labels))
	for i, l := range labels {
		out[i] = ChannelColor(l, i)
	}
	return out
}
