package balltree

import (
	"errors"

	"github.com/royalcat/rgeomatch/geomodel"
)

var (
	ErrInvalidCoordinate  = geomodel.ErrInvalidCoordinate
	ErrInvalidRadius      = errors.New("invalid radius")
	ErrInvalidK           = errors.New("invalid k")
	ErrInvalidNodeSize    = errors.New("invalid node size")
	ErrInvalidEarthRadius = errors.New("invalid earth radius")
)
