// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twistedtree83/classfeedback/internal/auth"
	"github.com/twistedtree83/classfeedback/internal/authz"
	"github.com/twistedtree83/classfeedback/internal/middleware"
)

// Router wires handlers to routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	authn         *auth.Middleware
	authz         *authz.Middleware
}

// NewRouter returns a Router.
func NewRouter(handler *Handler, chiMW *ChiMiddleware, authn *auth.Middleware, authzMW *authz.Middleware) *Router {
	return &Router{
		handler:       handler,
		chiMiddleware: chiMW,
		authn:         authn,
		authz:         authzMW,
	}
}

// SetupChi builds the complete HTTP handler.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(router.chiMiddleware.CORS())

	r.Handle("/metrics", promhttp.Handler())

	h := router.handler
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(router.authn.Authenticate)
		r.Use(router.authz.AuthorizeRequest)

		r.Get("/health/live", h.HealthLive)
		r.Get("/health/ready", h.HealthReady)

		// Join surface
		r.With(router.chiMiddleware.RateLimitJoin()).Post("/sessions", h.CreateSession)
		r.Route("/sessions/{code}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/end", h.EndSession)
			r.Get("/presentation", h.ActivePresentation)
			r.Get("/participants", h.ListParticipants)
			r.With(router.chiMiddleware.RateLimitJoin()).Post("/participants", h.RequestJoin)
		})
		r.Route("/participants/{id}", func(r chi.Router) {
			r.Get("/", h.GetParticipant)
			r.Post("/approve", h.ApproveParticipant)
			r.Post("/reject", h.RejectParticipant)
		})

		// Presentation cursor
		r.Post("/presentations", h.CreatePresentation)
		r.Route("/presentations/{id}", func(r chi.Router) {
			r.Get("/", h.GetPresentation)
			r.Get("/view", h.PresentationView)
			r.Post("/advance", h.AdvanceCursor)
			r.Post("/retreat", h.RetreatCursor)
			r.Put("/cursor", h.SetCursor)

			// Side channels
			r.Post("/messages", h.SendMessage)
			r.Post("/feedback", h.SubmitFeedback)
			r.Post("/questions", h.AskQuestion)
			r.Post("/extensions", h.RequestExtension)
		})
		r.Post("/questions/{id}/answer", h.AnswerQuestion)
		r.Post("/extensions/{id}/approve", h.ApproveExtension)
		r.Post("/extensions/{id}/reject", h.RejectExtension)

		// Delivery
		r.Get("/events/{kind}/{partition}", h.PollEvents)
		r.Get("/ws", h.WebSocket)
	})

	return r
}
