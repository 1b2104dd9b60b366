package geocode

import (
	"github.com/rotisserie/eris"
	"github.com/uber/h3-go/v4"

	"github.com/sells-group/address-cli/internal/model"
)

// Cell returns the H3 cell index (hex) containing c at resolution res (0-15).
func Cell(c model.Coordinate, res int) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(c.Lat, c.Lng), res)
	if err != nil {
		return "", eris.Wrapf(err, "geocode: h3 cell at resolution %d", res)
	}
	return cell.String(), nil
}
