package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/access"
	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/exec"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// demoObjects returns the seeded music library: albums and their tracks.
// The track length is a computed field, so reads exercise the expression
// pipeline on every backend.
func demoObjects() []*schema.Object {
	required := true
	return []*schema.Object{
		{
			Name:       "album",
			Version:    "1.0.0",
			PrimaryKey: "id",
			Fields: map[string]*schema.FieldDefinition{
				"id":     {Name: "id", Type: schema.FieldTypeString, Required: &required},
				"title":  {Name: "title", Type: schema.FieldTypeString, Required: &required},
				"artist": {Name: "artist", Type: schema.FieldTypeString, Required: &required},
				"year":   {Name: "year", Type: schema.FieldTypeInteger},
				"rating": {Name: "rating", Type: schema.FieldTypeNumber},
				"genres": {Name: "genres", Type: schema.FieldTypeArray},
			},
			Indexes: []schema.IndexDefinition{
				{Name: "album_artist_idx", Fields: []string{"artist"}, Type: schema.IndexTypeNormal},
				{Name: "album_year_idx", Fields: []string{"year"}, Type: schema.IndexTypeNormal},
			},
		},
		{
			Name:       "track",
			Version:    "1.0.0",
			PrimaryKey: "id",
			Fields: map[string]*schema.FieldDefinition{
				"id":       {Name: "id", Type: schema.FieldTypeString, Required: &required},
				"album_id": {Name: "album_id", Type: schema.FieldTypeString, Required: &required},
				"title":    {Name: "title", Type: schema.FieldTypeString, Required: &required},
				"seconds":  {Name: "seconds", Type: schema.FieldTypeInteger},
				"plays":    {Name: "plays", Type: schema.FieldTypeInteger},
				"starred":  {Name: "starred", Type: schema.FieldTypeBoolean},
				"length": {Name: "length", Type: schema.FieldTypeString, Computed: &schema.ComputedField{
					Expression: `Math.floor(seconds / 60) + ":" + ("0" + (seconds % 60)).slice(-2)`,
					DependsOn:  []string{"seconds"},
				}},
			},
			Indexes: []schema.IndexDefinition{
				{Name: "track_album_idx", Fields: []string{"album_id"}, Type: schema.IndexTypeNormal},
				{Name: "track_title_fts", Fields: []string{"title"}, Type: schema.IndexTypeFullText},
			},
		},
	}
}

func demoAlbums() []schema.Document {
	return []schema.Document{
		{"id": "alb-1", "title": "Blue Train", "artist": "John Coltrane", "year": 1958, "rating": 4.9, "genres": []string{"jazz"}},
		{"id": "alb-2", "title": "Kind of Blue", "artist": "Miles Davis", "year": 1959, "rating": 4.8, "genres": []string{"jazz"}},
		{"id": "alb-3", "title": "Head Hunters", "artist": "Herbie Hancock", "year": 1973, "rating": 4.6, "genres": []string{"jazz", "funk"}},
		{"id": "alb-4", "title": "In Rainbows", "artist": "Radiohead", "year": 2007, "rating": 4.7, "genres": []string{"rock", "electronic"}},
	}
}

func demoTracks() []schema.Document {
	return []schema.Document{
		{"id": "trk-1", "album_id": "alb-1", "title": "Blue Train", "seconds": 643, "plays": 128, "starred": true},
		{"id": "trk-2", "album_id": "alb-1", "title": "Moment's Notice", "seconds": 550, "plays": 64, "starred": false},
		{"id": "trk-3", "album_id": "alb-2", "title": "So What", "seconds": 545, "plays": 201, "starred": true},
		{"id": "trk-4", "album_id": "alb-2", "title": "Freddie Freeloader", "seconds": 589, "plays": 96, "starred": false},
		{"id": "trk-5", "album_id": "alb-2", "title": "Blue in Green", "seconds": 337, "plays": 158, "starred": true},
		{"id": "trk-6", "album_id": "alb-3", "title": "Chameleon", "seconds": 941, "plays": 87, "starred": false},
		{"id": "trk-7", "album_id": "alb-3", "title": "Watermelon Man", "seconds": 399, "plays": 112, "starred": false},
		{"id": "trk-8", "album_id": "alb-4", "title": "15 Step", "seconds": 237, "plays": 176, "starred": false},
		{"id": "trk-9", "album_id": "alb-4", "title": "Nude", "seconds": 255, "plays": 143, "starred": true},
	}
}

// demoPolicy grants admin everything. The reader role sees only
// well-rated albums and a trimmed view of tracks, so --as reader shows
// authorization rewriting queries.
func demoPolicy() *access.Policy {
	albumFilter := query.Condition("rating", query.ComparisonOperatorGte, 4.7)
	return access.NewPolicy().Add(
		access.Grant{
			Role:       "admin",
			Object:     access.Wildcard,
			Operations: access.AllOperations,
		},
		access.Grant{
			Role:       "reader",
			Object:     "album",
			Operations: []access.Operation{access.OperationRead},
			RowFilter:  &albumFilter,
		},
		access.Grant{
			Role:       "reader",
			Object:     "track",
			Operations: []access.Operation{access.OperationRead},
			Fields: map[string]access.FieldRule{
				"id":       {Visible: true},
				"album_id": {Visible: true},
				"title":    {Visible: true},
				"seconds":  {Visible: true},
				"length":   {Visible: true},
			},
		},
	)
}

// seedDemo loads the demo rows into one backend. Rows already present,
// as on a persistent backend from an earlier run, fail per record and
// are skipped.
func seedDemo(ctx context.Context, engine *exec.Engine, backend string, logger *zap.Logger) error {
	seed := func(collection string, docs []schema.Document) error {
		entries := make([]driver.BulkEntry, len(docs))
		for i, doc := range docs {
			entries[i] = driver.BulkEntry{Document: doc}
		}
		result, err := engine.Execute(ctx, &exec.CommandRequest{
			Collection: collection,
			Backend:    backend,
			Kind:       driver.CommandBulkCreate,
			Entries:    entries,
			Identity:   &access.Context{Subject: "seed", Roles: []string{"admin"}},
		})
		if err != nil {
			return err
		}
		if skipped := len(result.FailedRecords()); skipped > 0 {
			logger.Debug("seed rows already present",
				zap.String("backend", backend),
				zap.String("collection", collection),
				zap.Int("skipped", skipped))
		}
		return nil
	}
	if err := seed("album", demoAlbums()); err != nil {
		return err
	}
	return seed("track", demoTracks())
}
