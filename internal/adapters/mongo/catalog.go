package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Lohithg21/Quickshow/internal/domain"
	"github.com/Lohithg21/Quickshow/internal/observability"
)

// CatalogRepository is the read-only movie catalog collaborator. The core
// treats a MovieDoc as an opaque immutable record attached to a show at
// creation time; a lookup failure rejects show creation rather than
// partially applying it.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("movies"),
		logger: logger,
	}
}

type MovieDoc struct {
	ID               string    `bson:"_id"`
	Title            string    `bson:"title"`
	Overview         string    `bson:"overview"`
	PosterPath       string    `bson:"poster_path"`
	BackdropPath     string    `bson:"backdrop_path"`
	Genres           []string  `bson:"genres"`
	ReleaseDate      string    `bson:"release_date"`
	OriginalLanguage string    `bson:"original_language"`
	Tagline          string    `bson:"tagline"`
	VoteAverage      float64   `bson:"vote_average"`
	RuntimeMinutes   int       `bson:"runtime"`
	CreatedAt        time.Time `bson:"created_at"`
}

func (c *CatalogRepository) GetMovie(ctx context.Context, id string) (*MovieDoc, error) {
	var movie MovieDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&movie)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get movie")
		return nil, err
	}
	return &movie, nil
}

func (c *CatalogRepository) UpsertMovie(ctx context.Context, movie MovieDoc) error {
	movie.CreatedAt = time.Now()
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": movie.ID}, movie, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).Error("failed to upsert movie")
	}
	return err
}
