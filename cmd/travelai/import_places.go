package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/internal/profile"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store/db"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/retrieve"
)

// embedBatchSize bounds one embedding backfill request.
const embedBatchSize = 64

var (
	importFile  string
	importEmbed bool

	importPlacesCmd = &cobra.Command{
		Use:   "import-places",
		Short: "Load places and opening hours from a JSON file into the catalog",
		Long: `Load places and opening hours from a JSON file into the catalog.

The file holds an array of records:

  [{"id": "p-1", "name": "Old Museum", "city": "taipei",
    "lat": 25.03, "lng": 121.52,
    "categories": ["museum"], "tags": ["indoor"],
    "stay_minutes": 60, "price_tier": 2, "rating": 4.5,
    "opening_hours": [{"weekday": 2, "open": "09:00", "close": "17:00"}]}]

Re-importing a record updates it in place. With --embed, places that have
no stored vector yet are embedded with the configured provider so the
semantic retrieval branch can find them.`,
		RunE: runImportPlaces,
	}
)

// seedPlace is one record of the import file.
type seedPlace struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	City         string      `json:"city"`
	Lat          float64     `json:"lat"`
	Lng          float64     `json:"lng"`
	Categories   []string    `json:"categories"`
	Tags         []string    `json:"tags"`
	StayMinutes  int32       `json:"stay_minutes"`
	PriceTier    *int32      `json:"price_tier"`
	Rating       *float64    `json:"rating"`
	OpeningHours []seedHours `json:"opening_hours"`
}

// seedHours is one weekly opening window, clock times as HH:MM.
// A close at or before the open means the window runs past midnight.
type seedHours struct {
	Weekday int32  `json:"weekday"`
	Open    string `json:"open"`
	Close   string `json:"close"`
}

func runImportPlaces(cmd *cobra.Command, _ []string) error {
	instanceProfile := buildProfile()
	if err := instanceProfile.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		printDatabaseError(err, instanceProfile)
		return errors.Wrap(err, "failed to create db driver")
	}
	st := store.New(dbDriver, instanceProfile)
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		printDatabaseError(err, instanceProfile)
		return errors.Wrap(err, "failed to migrate")
	}

	raw, err := os.ReadFile(importFile)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", importFile)
	}
	var seeds []seedPlace
	if err := json.Unmarshal(raw, &seeds); err != nil {
		return errors.Wrapf(err, "failed to parse %s", importFile)
	}

	for _, seed := range seeds {
		place, intervals, err := seed.toStore()
		if err != nil {
			return errors.Wrapf(err, "invalid place %q", seed.ID)
		}
		if _, err := st.UpsertPlace(ctx, place); err != nil {
			return errors.Wrapf(err, "failed to upsert place %q", seed.ID)
		}
		if err := st.ReplaceOpeningIntervals(ctx, place.ID, intervals); err != nil {
			return errors.Wrapf(err, "failed to store opening hours for %q", seed.ID)
		}
	}
	fmt.Printf("Imported %d places from %s\n", len(seeds), importFile)

	if importEmbed {
		embedded, err := embedMissing(ctx, instanceProfile, st)
		if err != nil {
			return err
		}
		fmt.Printf("Embedded %d places\n", embedded)
	}
	return nil
}

func (s seedPlace) toStore() (*store.Place, []*store.OpeningInterval, error) {
	if s.ID == "" || s.Name == "" {
		return nil, nil, errors.New("id and name are required")
	}
	place := &store.Place{
		ID:          s.ID,
		Name:        s.Name,
		City:        s.City,
		Lat:         s.Lat,
		Lng:         s.Lng,
		Categories:  s.Categories,
		Tags:        s.Tags,
		StayMinutes: s.StayMinutes,
		PriceTier:   s.PriceTier,
		Rating:      s.Rating,
	}
	intervals := make([]*store.OpeningInterval, 0, len(s.OpeningHours))
	for _, h := range s.OpeningHours {
		if h.Weekday < 0 || h.Weekday > 6 {
			return nil, nil, errors.Errorf("weekday %d out of range", h.Weekday)
		}
		open, err := travel.ParseMinute(h.Open)
		if err != nil {
			return nil, nil, err
		}
		closeMinute, err := travel.ParseMinute(h.Close)
		if err != nil {
			return nil, nil, err
		}
		intervals = append(intervals, &store.OpeningInterval{
			PlaceID:     s.ID,
			Weekday:     h.Weekday,
			OpenMinute:  int32(open),
			CloseMinute: int32(closeMinute),
		})
	}
	return place, intervals, nil
}

// embedMissing backfills vectors for places that have none under the
// configured model, batch by batch until the backlog drains.
func embedMissing(ctx context.Context, instanceProfile *profile.Profile, st *store.Store) (int, error) {
	aiConfig := ai.NewConfigFromProfile(instanceProfile)
	if !aiConfig.HasEmbedding() {
		return 0, errors.New("no embedding provider configured; set TRAVELAI_EMBEDDING_PROVIDER")
	}
	embedder, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create embedding service")
	}

	total := 0
	for {
		pending, err := st.FindPlacesWithoutEmbedding(ctx, &store.FindPlacesWithoutEmbedding{
			Model: aiConfig.Embedding.Model,
			Limit: embedBatchSize,
		})
		if err != nil {
			return total, errors.Wrap(err, "failed to list places without embedding")
		}
		if len(pending) == 0 {
			return total, nil
		}

		texts := make([]string, len(pending))
		for i, place := range pending {
			texts[i] = retrieve.PlaceProjection(place)
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, errors.Wrap(err, "failed to embed batch")
		}
		if len(vectors) != len(pending) {
			return total, errors.Errorf("embedding batch returned %d vectors for %d places", len(vectors), len(pending))
		}

		for i, place := range pending {
			if _, err := st.UpsertPlaceEmbedding(ctx, &store.PlaceEmbedding{
				PlaceID:   place.ID,
				Embedding: vectors[i],
				Model:     aiConfig.Embedding.Model,
			}); err != nil {
				return total, errors.Wrapf(err, "failed to store embedding for %q", place.ID)
			}
			total++
		}
	}
}

func init() {
	importPlacesCmd.Flags().StringVar(&importFile, "file", "", "path to the places JSON file")
	importPlacesCmd.Flags().BoolVar(&importEmbed, "embed", false, "embed imported places with the configured provider")
	if err := importPlacesCmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(importPlacesCmd)
}
