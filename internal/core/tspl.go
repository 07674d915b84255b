package core

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPreset = errors.New("unknown page preset")

type PagePreset struct {
	WidthMM  float64
	HeightMM float64
	GapMM    float64
	DPI      int
}

const (
	labelMarginMM     = 2.0
	labelTextIndentMM = 14.0
	labelLineStepMM   = 4.0
)

type TSPLRenderer struct {
	presets map[string]PagePreset
}

func NewTSPLRenderer(presets map[string]PagePreset) *TSPLRenderer {
	return &TSPLRenderer{presets: presets}
}

func (r *TSPLRenderer) Render(pageConfig string, label LabelContent, quantity int) (string, error) {
	preset, ok := r.presets[pageConfig]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, pageConfig)
	}
	if quantity < 1 {
		quantity = 1
	}

	block := renderLabel(preset, label)
	if quantity == 1 {
		return block, nil
	}

	copies := make([]string, quantity)
	for i := range copies {
		copies[i] = block
	}
	return strings.Join(copies, "\r\n"), nil
}

func renderLabel(preset PagePreset, label LabelContent) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("SIZE %.0f mm, %.0f mm\n", preset.WidthMM, preset.HeightMM))
	sb.WriteString(fmt.Sprintf("GAP %.0f mm, 0 mm\n", preset.GapMM))
	sb.WriteString("DIRECTION 0\n")
	sb.WriteString("CLS\n")

	margin := mmToDots(labelMarginMM, preset.DPI)
	textX := margin
	if label.QRData != "" {
		textX = mmToDots(labelMarginMM+labelTextIndentMM, preset.DPI)
		cellWidth := int(GetDotsPerMM(preset.DPI) / 2)
		sb.WriteString(fmt.Sprintf("QRCODE %d,%d,M,%d,0,A,\"%s\"\n",
			margin, margin, cellWidth, escapeTSPLString(label.QRData)))
	}
	if label.Title != "" {
		sb.WriteString(fmt.Sprintf("TEXT %d,%d,\"3\",0,1,1,\"%s\"\n",
			textX, margin, escapeTSPLString(label.Title)))
	}
	if label.Subtitle != "" {
		subtitleY := margin + mmToDots(labelLineStepMM, preset.DPI)
		sb.WriteString(fmt.Sprintf("TEXT %d,%d,\"2\",0,1,1,\"%s\"\n",
			textX, subtitleY, escapeTSPLString(label.Subtitle)))
	}

	sb.WriteString("PRINT 1\n")
	return sb.String()
}

func mmToDots(mm float64, dpi int) int {
	return int(mm * GetDotsPerMM(dpi))
}

func GetDotsPerMM(dpi int) float64 {
	switch dpi {
	case 203:
		return 8.0
	case 300:
		return 12.0
	case 600:
		return 24.0
	default:
		return float64(dpi) / 25.4
	}
}

func escapeTSPLString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}
