// Package dataset loads the static zone registry, route landmarks and rider
// roster a simulation starts from.
package dataset

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/musthaq16/vehicle-road-simulator/internal/geo"
	"github.com/musthaq16/vehicle-road-simulator/internal/simulator"
	"github.com/musthaq16/vehicle-road-simulator/internal/zone"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

//go:embed johannesburg.yaml
var johannesburg []byte

var validate = validator.New(validator.WithRequiredStructEnabled())

type zoneRecord struct {
	Name   string  `yaml:"name" validate:"required"`
	Center string  `yaml:"center" validate:"required"`
	Radius float64 `yaml:"radius" validate:"gt=0"`
}

type landmarkRecord struct {
	Name     string `yaml:"name" validate:"required"`
	Location string `yaml:"location" validate:"required"`
}

type riderRecord struct {
	ID       string `yaml:"id" validate:"required"`
	Name     string `yaml:"name" validate:"required"`
	Status   string `yaml:"status" validate:"oneof=active idle offline"`
	Location string `yaml:"location" validate:"required"`
	Speed    int    `yaml:"speed" validate:"gte=0"`
	IMEI     string `yaml:"imei" validate:"omitempty,numeric,len=15"`
	LastSeen string `yaml:"last_seen"`
}

type document struct {
	Zones     []zoneRecord     `yaml:"zones" validate:"min=1,dive"`
	Landmarks []landmarkRecord `yaml:"landmarks" validate:"min=2,dive"`
	Roster    []riderRecord    `yaml:"roster" validate:"min=1,dive"`
}

// Dataset is everything a simulation needs besides road geometry.
type Dataset struct {
	Zones     []zone.Zone
	Landmarks []simulator.Landmark
	Roster    []types.Entity
}

// Registry builds a zone registry from the dataset.
func (d *Dataset) Registry() *zone.Registry {
	return zone.NewRegistry(d.Zones)
}

// Load reads a dataset file, or the embedded Johannesburg set when path is empty.
func Load(path string) (*Dataset, error) {
	if path == "" {
		return Parse(johannesburg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	ds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Parse decodes and validates a YAML dataset.
func Parse(data []byte) (*Dataset, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}

	ds := &Dataset{}
	var errs []error

	for _, z := range doc.Zones {
		c, err := geo.ParseCoord(z.Center)
		if err != nil {
			errs = append(errs, fmt.Errorf("zone %s: %w", z.Name, err))
			continue
		}
		ds.Zones = append(ds.Zones, zone.Zone{Name: z.Name, Center: c, Radius: z.Radius})
	}

	for _, l := range doc.Landmarks {
		c, err := geo.ParseCoord(l.Location)
		if err != nil {
			errs = append(errs, fmt.Errorf("landmark %s: %w", l.Name, err))
			continue
		}
		ds.Landmarks = append(ds.Landmarks, simulator.Landmark{Name: l.Name, Location: c})
	}

	seen := make(map[string]bool, len(doc.Roster))
	for _, r := range doc.Roster {
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("rider %s: duplicate id", r.ID))
			continue
		}
		seen[r.ID] = true

		c, err := geo.ParseCoord(r.Location)
		if err != nil {
			errs = append(errs, fmt.Errorf("rider %s: %w", r.ID, err))
			continue
		}
		ds.Roster = append(ds.Roster, types.Entity{
			ID:       r.ID,
			Name:     r.Name,
			Status:   types.Status(r.Status),
			Position: c,
			Speed:    r.Speed,
			IMEI:     r.IMEI,
			LastSeen: r.LastSeen,
		})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ds, nil
}
