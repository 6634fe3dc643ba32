package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"vibin_matcher/models"
	"vibin_matcher/utils"
)

const profileSnapshotField = "profile"

// BleveGeoIndex implements GeoIndex using Bleve's geo_point support.
type BleveGeoIndex struct {
	index  bleve.Index
	logger *zap.Logger
}

func newGeoIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false
	docMapping.AddFieldMappingsAt("coordinates", bleve.NewGeoPointFieldMapping())

	settingsMapping := bleve.NewDocumentMapping()
	settingsMapping.Dynamic = false
	settingsMapping.AddFieldMappingsAt("gender", bleve.NewKeywordFieldMapping())
	settingsMapping.AddFieldMappingsAt("show_me", bleve.NewBooleanFieldMapping())
	docMapping.AddSubDocumentMapping("settings", settingsMapping)

	// the snapshot is returned with hits but never searched
	snapshotMapping := bleve.NewTextFieldMapping()
	snapshotMapping.Index = false
	snapshotMapping.Store = true
	snapshotMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(profileSnapshotField, snapshotMapping)

	im.AddDocumentMapping("profile", docMapping)
	im.DefaultType = "profile"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveGeoIndex creates or opens a Bleve index at path. An empty path
// keeps the index in memory; call Reindex after startup to populate it.
func NewBleveGeoIndex(path string, logger *zap.Logger) (*BleveGeoIndex, error) {
	logger = utils.OrNop(logger)
	im := newGeoIndexMapping()

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveGeoIndex{index: index, logger: logger}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveGeoIndex{index: index, logger: logger}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveGeoIndex{index: index, logger: logger}, nil
}

// Upsert indexes the profile at its coordinates
func (b *BleveGeoIndex) Upsert(ctx context.Context, profile models.UserProfile) error {
	if profile.Coordinates == nil {
		return b.Remove(ctx, profile.ID)
	}
	snapshot, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile snapshot: %w", err)
	}
	doc := map[string]interface{}{
		"coordinates": map[string]interface{}{
			"lat": profile.Coordinates.Latitude,
			"lon": profile.Coordinates.Longitude,
		},
		profileSnapshotField: string(snapshot),
	}
	if profile.Settings != nil {
		doc["settings"] = map[string]interface{}{
			"gender":  profile.Settings.Gender,
			"show_me": profile.Settings.ShowMe,
		}
	}
	if err := b.index.Index(profile.ID, doc); err != nil {
		return fmt.Errorf("failed to index profile %s: %w", profile.ID, err)
	}
	return nil
}

// Remove deletes a profile from the index
func (b *BleveGeoIndex) Remove(ctx context.Context, id string) error {
	if err := b.index.Delete(id); err != nil {
		return fmt.Errorf("failed to remove profile %s: %w", id, err)
	}
	return nil
}

// Near runs a geo distance query combined with the filters, sorted by
// distance from the query point and then by id.
func (b *BleveGeoIndex) Near(ctx context.Context, q NearQuery, offset, limit int) ([]Candidate, error) {
	distance := strconv.FormatFloat(q.RadiusKm, 'f', -1, 64) + "km"
	geoQuery := bleve.NewGeoDistanceQuery(q.Longitude, q.Latitude, distance)
	geoQuery.SetField("coordinates")

	queries := []blevequery.Query{geoQuery}
	for _, f := range q.Filters {
		switch v := f.Value.(type) {
		case bool:
			bq := bleve.NewBoolFieldQuery(v)
			bq.SetField(f.Field)
			queries = append(queries, bq)
		case string:
			tq := bleve.NewTermQuery(v)
			tq.SetField(f.Field)
			queries = append(queries, tq)
		default:
			return nil, fmt.Errorf("unsupported filter value %T on %s", f.Value, f.Field)
		}
	}

	distanceSort, err := search.NewSortGeoDistance("coordinates", "km", q.Longitude, q.Latitude, false)
	if err != nil {
		return nil, fmt.Errorf("failed to build distance sort: %w", err)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(queries...), limit, offset, false)
	req.Fields = []string{profileSnapshotField}
	req.SortByCustom(search.SortOrder{distanceSort, &search.SortDocID{}})

	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve geo search failed: %w", err)
	}

	candidates := make([]Candidate, 0, len(results.Hits))
	for _, hit := range results.Hits {
		raw, ok := hit.Fields[profileSnapshotField].(string)
		if !ok {
			b.logger.Warn("indexed profile has no snapshot", zap.String("id", hit.ID))
			continue
		}
		var profile models.UserProfile
		if err := json.Unmarshal([]byte(raw), &profile); err != nil {
			b.logger.Warn("skipping unreadable profile snapshot", zap.String("id", hit.ID), zap.Error(err))
			continue
		}
		candidate := Candidate{Profile: profile}
		if profile.Coordinates != nil {
			candidate.DistanceKm = utils.DistanceKm(q.Latitude, q.Longitude, profile.Coordinates.Latitude, profile.Coordinates.Longitude)
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// DocCount returns the number of indexed profiles
func (b *BleveGeoIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveGeoIndex) Close() error {
	return b.index.Close()
}
