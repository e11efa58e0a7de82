// Package layer defines the persistent record of one uploaded GeoJSON
// dataset and the repository contract the pipeline persists it through.
package layer

import (
	"context"
	"errors"
	"maps"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mohammed-shakir/estate-geolayers/internal/metadata"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Metadata keys written by the ingestion pipeline.
const (
	MetaOriginalCRS      = "original_crs"
	MetaOriginalFilePath = "original_file_path"
	MetaTransformed      = "transformed"
	MetaTransformedAt    = "transformed_at"
	MetaDropped          = "dropped_coordinates"
	MetaUnknown          = "unrecognized_entries"
	MetaCenterH3         = "center_h3"
	MetaAttempt          = "attempt"
	MetaProcessedAt      = "processed_at"
)

var ErrNotFound = errors.New("layer not found")

type Layer struct {
	ID          uint64  `gorm:"primaryKey" json:"id"`
	UserID      uint64  `gorm:"not null;index" json:"user_id"`
	EstateID    *uint64 `gorm:"index" json:"estate_id,omitempty"`
	Name        string  `gorm:"not null" json:"name"`
	Description string  `json:"description"`

	FilePath string `gorm:"not null" json:"file_path"`
	FileName string `json:"file_name"`
	FileHash string `gorm:"size:64;index" json:"file_hash"`
	FileSize int64  `json:"file_size"`

	GeometryType     string                              `json:"geometry_type"`
	FeaturesCount    int                                 `gorm:"not null;default:0" json:"features_count"`
	BBoxMinLat       *float64                            `gorm:"type:decimal(10,7)" json:"bbox_min_lat"`
	BBoxMinLng       *float64                            `gorm:"type:decimal(10,7)" json:"bbox_min_lng"`
	BBoxMaxLat       *float64                            `gorm:"type:decimal(10,7)" json:"bbox_max_lat"`
	BBoxMaxLng       *float64                            `gorm:"type:decimal(10,7)" json:"bbox_max_lng"`
	CenterLat        *float64                            `gorm:"type:decimal(10,7)" json:"center_lat"`
	CenterLng        *float64                            `gorm:"type:decimal(10,7)" json:"center_lng"`
	PropertiesSchema datatypes.JSONType[metadata.Schema] `json:"properties_schema"`

	Color       string `gorm:"not null;default:'#3388ff'" json:"color"`
	Opacity     int    `gorm:"not null;default:70" json:"opacity"`
	StrokeWidth int    `gorm:"not null;default:2" json:"stroke_width"`
	StrokeColor string `gorm:"not null;default:'#3388ff'" json:"stroke_color"`
	IsVisible   bool   `gorm:"not null;default:true" json:"is_visible"`
	ZIndex      int    `gorm:"not null;default:0" json:"z_index"`

	CRS          string            `gorm:"column:crs;not null;default:'EPSG:4326'" json:"crs"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	Status       Status            `gorm:"not null;default:'processing';index" json:"status"`
	ErrorMessage *string           `json:"error_message"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Layer) TableName() string { return "geo_json_layers" }

// New returns a layer in processing state with the default styling.
func New(userID uint64, name, filePath string) *Layer {
	return &Layer{
		UserID:      userID,
		Name:        name,
		FilePath:    filePath,
		Color:       "#3388ff",
		Opacity:     70,
		StrokeWidth: 2,
		StrokeColor: "#3388ff",
		IsVisible:   true,
		CRS:         "EPSG:4326",
		Status:      StatusProcessing,
		Metadata:    datatypes.JSONMap{},
	}
}

// OriginalPath is the untouched upload. After a reprojection FilePath
// points at the transformed artifact and the upload is kept in metadata.
func (l *Layer) OriginalPath() string {
	if p, ok := l.Metadata[MetaOriginalFilePath].(string); ok && p != "" {
		return p
	}
	return l.FilePath
}

func (l *Layer) Ready() bool { return l.Status == StatusReady }

// Bounds returns the stored box, nil if the layer has none.
func (l *Layer) Bounds() *metadata.Bounds {
	if l.BBoxMinLat == nil || l.BBoxMinLng == nil || l.BBoxMaxLat == nil || l.BBoxMaxLng == nil {
		return nil
	}
	b := &metadata.Bounds{
		MinLng: *l.BBoxMinLng,
		MinLat: *l.BBoxMinLat,
		MaxLng: *l.BBoxMaxLng,
		MaxLat: *l.BBoxMaxLat,
	}
	if l.CenterLng != nil && l.CenterLat != nil {
		b.CenterLng, b.CenterLat = *l.CenterLng, *l.CenterLat
	}
	return b
}

// Clone copies l deeply enough that mutating the copy's metadata or
// pointers never reaches the original.
func (l *Layer) Clone() *Layer {
	cp := *l
	cp.Metadata = maps.Clone(l.Metadata)
	cp.EstateID = clonePtr(l.EstateID)
	cp.BBoxMinLat = clonePtr(l.BBoxMinLat)
	cp.BBoxMinLng = clonePtr(l.BBoxMinLng)
	cp.BBoxMaxLat = clonePtr(l.BBoxMaxLat)
	cp.BBoxMaxLng = clonePtr(l.BBoxMaxLng)
	cp.CenterLat = clonePtr(l.CenterLat)
	cp.CenterLng = clonePtr(l.CenterLng)
	cp.ErrorMessage = clonePtr(l.ErrorMessage)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Update is a partial change to one layer. Nil fields are left alone;
// Metadata is merged key by key into the existing bag.
type Update struct {
	Status        *Status
	ErrorMessage  *string // "" clears the message
	FilePath      *string
	CRS           *string
	GeometryType  *string
	FeaturesCount *int
	Bounds        *metadata.Bounds
	Schema        metadata.Schema
	Metadata      map[string]any
}

// Apply writes u into l.
func (u Update) Apply(l *Layer) {
	if u.Status != nil {
		l.Status = *u.Status
	}
	if u.ErrorMessage != nil {
		if *u.ErrorMessage == "" {
			l.ErrorMessage = nil
		} else {
			l.ErrorMessage = clonePtr(u.ErrorMessage)
		}
	}
	if u.FilePath != nil {
		l.FilePath = *u.FilePath
	}
	if u.CRS != nil {
		l.CRS = *u.CRS
	}
	if u.GeometryType != nil {
		l.GeometryType = *u.GeometryType
	}
	if u.FeaturesCount != nil {
		l.FeaturesCount = *u.FeaturesCount
	}
	if u.Bounds != nil {
		b := *u.Bounds
		l.BBoxMinLng, l.BBoxMinLat = &b.MinLng, &b.MinLat
		l.BBoxMaxLng, l.BBoxMaxLat = &b.MaxLng, &b.MaxLat
		l.CenterLng, l.CenterLat = &b.CenterLng, &b.CenterLat
	}
	if u.Schema != nil {
		l.PropertiesSchema = datatypes.NewJSONType(u.Schema)
	}
	if len(u.Metadata) > 0 {
		if l.Metadata == nil {
			l.Metadata = datatypes.JSONMap{}
		}
		maps.Copy(l.Metadata, u.Metadata)
	}
}

// MarkError is the update recorded when a run fails.
func MarkError(msg string) Update {
	st := StatusError
	return Update{Status: &st, ErrorMessage: &msg}
}

// MarkProcessing resets a layer for another run and clears the last error.
func MarkProcessing() Update {
	st, clear := StatusProcessing, ""
	return Update{Status: &st, ErrorMessage: &clear}
}

// Repository persists layers. Update is a whole-record, last-writer-wins
// write scoped to one id.
type Repository interface {
	Create(ctx context.Context, l *Layer) error
	Load(ctx context.Context, id uint64) (*Layer, error)
	Update(ctx context.Context, id uint64, u Update) error
	Delete(ctx context.Context, id uint64) error
	// ListStale returns layers in status whose last update is older than before.
	ListStale(ctx context.Context, status Status, before time.Time) ([]*Layer, error)
}
