package content

import (
	"log/slog"

	"github.com/sanctuary-church/sanctuary-api/internal/event"
	"github.com/sanctuary-church/sanctuary-api/internal/media"
	"github.com/sanctuary-church/sanctuary-api/internal/metrics"
	"github.com/sanctuary-church/sanctuary-api/internal/model"
	"github.com/sanctuary-church/sanctuary-api/internal/storage"
	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

type (
	Events     = Resource[model.Event, *model.Event, model.EventInput]
	Posts      = Resource[model.Post, *model.Post, model.PostInput]
	NewsItems  = Resource[model.News, *model.News, model.NewsInput]
	Ministries = Resource[model.Ministry, *model.Ministry, model.MinistryInput]
)

// Options holds content defaults.
type Options struct {
	DefaultAuthor string // Post author when none is given
}

// Service bundles the resources served by the API.
type Service struct {
	Events     *Events
	Posts      *Posts
	News       *NewsItems
	Ministries *Ministries
	LiveStream *LiveStream
}

// NewService wires every resource to the shared store, blob store,
// validator and publisher.
func NewService(store storage.Store, blobs media.Blobs, v *validate.Engine, pub event.Publisher, logger *slog.Logger, opts Options) *Service {
	m := metrics.NewMetrics()
	im := &images{blobs: blobs, metrics: m, logger: logger}
	author := opts.DefaultAuthor
	if author == "" {
		author = "Admin"
	}

	return &Service{
		Events: &Events{
			name:  "events",
			table: store.Events(),
			validate: func(in model.EventInput, mode validate.Mode) (model.Changes[model.Event], error) {
				c, err := v.Event(in, mode)
				if err != nil {
					return nil, err
				}
				return c, nil
			},
			images: im, events: pub, metrics: m, logger: logger,
		},
		Posts: &Posts{
			name:  "posts",
			table: store.Posts(),
			validate: func(in model.PostInput, mode validate.Mode) (model.Changes[model.Post], error) {
				c, err := v.Post(in, mode)
				if err != nil {
					return nil, err
				}
				return c, nil
			},
			onCreate: func(p *model.Post) {
				if p.Author == "" {
					p.Author = author
				}
			},
			images: im, events: pub, metrics: m, logger: logger,
		},
		News: &NewsItems{
			name:  "news",
			table: store.News(),
			validate: func(in model.NewsInput, mode validate.Mode) (model.Changes[model.News], error) {
				c, err := v.News(in, mode)
				if err != nil {
					return nil, err
				}
				return c, nil
			},
			images: im, events: pub, metrics: m, logger: logger,
		},
		Ministries: &Ministries{
			name:  "ministries",
			table: store.Ministries(),
			validate: func(in model.MinistryInput, mode validate.Mode) (model.Changes[model.Ministry], error) {
				c, err := v.Ministry(in, mode)
				if err != nil {
					return nil, err
				}
				return c, nil
			},
			images: im, events: pub, metrics: m, logger: logger,
		},
		LiveStream: &LiveStream{
			store:     store.LiveStream(),
			validator: v,
			events:    pub,
			metrics:   m,
			logger:    logger,
		},
	}
}
