package layout

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Insets are padding distances, in points, measured inward from each edge.
type Insets struct {
	Top    float64 `json:"top" validate:"gte=0"`
	Bottom float64 `json:"bottom" validate:"gte=0"`
	Left   float64 `json:"left" validate:"gte=0"`
	Right  float64 `json:"right" validate:"gte=0"`
}

// Config controls how a source page is cut into a label and an invoice and
// fitted onto fixed-size output pages. All lengths are in points.
type Config struct {
	PageWidth       float64 `json:"page_width_pt" validate:"gt=0"`
	PageHeight      float64 `json:"page_height_pt" validate:"gt=0"`
	SplitFrac       float64 `json:"split_frac" validate:"gte=0,lte=1"`
	LabelZoom       float64 `json:"label_zoom" validate:"gt=0"`
	LabelPadding    Insets  `json:"label_padding"`
	TrimLabelTop    float64 `json:"trim_label_top_pt" validate:"gte=0"`
	InvoicePadding  Insets  `json:"invoice_padding"`
	InvoiceRotation int     `json:"rotate_invoice_deg" validate:"quarterturn"`
}

// Default returns the layout used for 30mm wide thermal label stock.
func Default() Config {
	return Config{
		PageWidth:  85.039,
		PageHeight: 120.425,
		SplitFrac:  0.465,
		LabelZoom:  1.83,
		InvoicePadding: Insets{
			Top:    8,
			Bottom: 10,
			Left:   20,
			Right:  20,
		},
		InvoiceRotation: 90,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("quarterturn", func(fl validator.FieldLevel) bool {
			return fl.Field().Int()%90 == 0
		})
	})
	return validate
}

// Validate reports the first invalid field of the configuration.
func (c Config) Validate() error {
	if err := configValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid layout config: %w", err)
	}
	return nil
}
