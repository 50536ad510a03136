// Package preset holds the static printer and material reference tables.
// The workflow engine validates print settings against these tables
// before any network call is made.
package preset

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPrinterType = errors.New("unknown printer type")
	ErrUnknownMaterial    = errors.New("unknown material code")
	ErrInvalidLayerHeight = errors.New("invalid layer height for material")
)

// Material describes a resin and the layer heights it supports.
type Material struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	LayerHeights []float64 `json:"layer_heights"`
}

// SupportsLayerHeight reports whether mm is a valid layer height for m.
func (m Material) SupportsLayerHeight(mm float64) bool {
	for _, h := range m.LayerHeights {
		if h == mm {
			return true
		}
	}
	return false
}

var materials = map[string]Material{
	"FLGPGR05": {Code: "FLGPGR05", Name: "Grey V5", LayerHeights: []float64{0.025, 0.05, 0.1}},
	"FLGPBK05": {Code: "FLGPBK05", Name: "Black V5", LayerHeights: []float64{0.025, 0.05, 0.1}},
	"FLGPCL05": {Code: "FLGPCL05", Name: "Clear V5", LayerHeights: []float64{0.025, 0.05, 0.1}},
	"FLGPWH05": {Code: "FLGPWH05", Name: "White V5", LayerHeights: []float64{0.025, 0.05, 0.1}},
	"FLTO2K02": {Code: "FLTO2K02", Name: "Tough 2000 V2", LayerHeights: []float64{0.025, 0.05, 0.1}},
	"FLTOTL02": {Code: "FLTOTL02", Name: "Tough 1500 V2", LayerHeights: []float64{0.025, 0.05, 0.1}},
	"FLDUCL21": {Code: "FLDUCL21", Name: "Durable V2.1", LayerHeights: []float64{0.025, 0.05, 0.1}},
	"FLELCL02": {Code: "FLELCL02", Name: "Elastic 50A V2", LayerHeights: []float64{0.05, 0.1}},
	"FLFMGR01": {Code: "FLFMGR01", Name: "Fast Model V1", LayerHeights: []float64{0.05, 0.1}},
}

var printerTypes = map[string]struct{}{
	"Form 3":  {},
	"Form 3+": {},
	"Form 3B": {},
	"Form 3L": {},
	"Form 4":  {},
	"Form 4B": {},
	"Form 4L": {},
}

// Materials returns the known materials.
func Materials() []Material {
	r := make([]Material, 0, len(materials))
	for _, m := range materials {
		r = append(r, m)
	}
	return r
}

// MaterialByCode looks up a material by its code.
func MaterialByCode(code string) (Material, bool) {
	m, ok := materials[code]
	return m, ok
}

// ValidatePrintSettings checks a printer type, material code, and layer
// height combination. A nil return means the settings are safe to send
// to the device-control API.
func ValidatePrintSettings(printerType, materialCode string, layerHeightMM float64) error {
	if _, ok := printerTypes[printerType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrinterType, printerType)
	}
	m, ok := materials[materialCode]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMaterial, materialCode)
	}
	if !m.SupportsLayerHeight(layerHeightMM) {
		return fmt.Errorf("%w: %s at %gmm", ErrInvalidLayerHeight, materialCode, layerHeightMM)
	}
	return nil
}
