// Package server assembles the services and mounts them on one router.
package server

import (
	"fmt"
	"net/http"
	"time"

	"coursemarket/internal/catalog"
	"coursemarket/internal/enrollment"
	"coursemarket/internal/eventstore"
	"coursemarket/internal/membership"
	"coursemarket/internal/payment"
)

// Backends are the storage and delivery adapters the services run on.
type Backends struct {
	Catalog     catalog.Repository
	Enrollments enrollment.Repository
	Members     membership.Repository
	Events      eventstore.Store
	Publishers  []eventstore.Publisher
	// Cache is optional.
	Cache catalog.ListCache
}

// Options tune the services.
type Options struct {
	JWTSecret         string
	TokenTTL          time.Duration
	PaymentURL        string
	CertificatePrefix string
	MediaBaseURL      string
	Location          *time.Location
	AuthLimits        membership.Limits
	PageSize          int
	MaxPageSize       int
	// Now overrides the clock used for the purchase window.
	Now func() time.Time
}

// App is the wired application.
type App struct {
	Catalog     catalog.Service
	Enrollments enrollment.Service
	Members     membership.Service
	Tokens      *membership.TokenManager
	Journal     *eventstore.Journal
	Handler     http.Handler
}

// New wires the services on b and builds the HTTP router.
func New(o Options, b Backends) (*App, error) {
	if o.PaymentURL == "" {
		o.PaymentURL = payment.DefaultURL
	}
	checkout, err := payment.NewHostedCheckout(o.PaymentURL)
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}

	journal := eventstore.NewJournal(b.Events, b.Publishers...)
	tokens := membership.NewTokenManager(o.JWTSecret, o.TokenTTL)

	courses := catalog.NewService(b.Catalog, b.Enrollments, journal, b.Cache, o.MaxPageSize)
	members := membership.NewService(b.Members, tokens, journal, o.AuthLimits)

	prefix := o.CertificatePrefix
	if prefix == "" {
		prefix = enrollment.DefaultCertificatePrefix
	}
	enrollments, err := enrollment.NewService(enrollment.Deps{
		Repo:     b.Enrollments,
		Courses:  courses,
		Payments: checkout,
		Events:   journal,
		History:  journal,
		Codes:    enrollment.NewRandomCodes(prefix),
		Location: o.Location,
		Now:      o.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("enrollment service: %w", err)
	}

	presenter := catalog.Presenter{MediaBaseURL: o.MediaBaseURL}
	catalogHandler := catalog.NewHandler(courses, presenter)
	catalogHandler.PageSize = o.PageSize

	router := NewRouter(Handlers{
		Catalog:     catalogHandler,
		Enrollments: enrollment.NewHandler(enrollments, presenter),
		Members:     membership.NewHandler(members),
		Tokens:      tokens,
	})

	return &App{
		Catalog:     courses,
		Enrollments: enrollments,
		Members:     members,
		Tokens:      tokens,
		Journal:     journal,
		Handler:     router,
	}, nil
}
