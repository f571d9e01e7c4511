package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"stockdesk/internal/domain"
	httpinfra "stockdesk/internal/infra/http"
	"stockdesk/internal/querycache"
	"stockdesk/internal/usecase/articles"
	"stockdesk/internal/usecase/market"
	"stockdesk/internal/usecase/profiles"
	"stockdesk/internal/usecase/session"
	"stockdesk/internal/usecase/watchlists"
)

const maxUploadSize = 10 << 20

// fileOpener отдаёт содержимое файла для /files/{id}/view.
type fileOpener interface {
	Open(ctx context.Context, id string) (io.ReadCloser, domain.File, error)
}

type api struct {
	articles   *articles.Service
	watchlists *watchlists.Service
	profiles   *profiles.Service
	market     *market.Service
	sessions   *session.Registry
	files      fileOpener
	secure     bool
	log        zerolog.Logger
}

func (a *api) routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpinfra.SessionMiddleware(a.sessions, false))

		r.Post("/auth/register", a.register)
		r.Post("/auth/login", a.login)

		r.Get("/articles", a.listArticles)
		r.Get("/articles/{id}", a.getArticle)
		r.Get("/articles/by-slug/{slug}", a.articlesBySlug)

		r.Get("/files/{id}", a.getFile)
		r.Get("/files/{id}/url", a.fileURL)
		r.Get("/files/{id}/view", a.viewFile)

		r.Route("/stocks/{symbol}", func(r chi.Router) {
			r.Get("/overview", a.stockOverview)
			r.Get("/series", a.stockSeries)
			r.Get("/news", a.stockNews)
			r.Get("/headlines", a.stockHeadlines)
			r.Get("/quote", a.stockQuote)
		})
		r.Get("/market/movers", a.marketMovers)
		r.Get("/market/news", a.marketNews)
		r.Get("/market/status", a.marketStatus)
		r.Get("/market/search", a.marketSearch)

		r.Group(func(r chi.Router) {
			r.Use(requireIdentity)

			r.Post("/auth/logout", a.logout)
			r.Get("/auth/me", a.me)

			r.Post("/articles", a.createArticle)
			r.Put("/articles/{id}", a.updateArticle)
			r.Delete("/articles/{id}", a.deleteArticle)

			r.Post("/files", a.uploadFile)
			r.Delete("/files/{id}", a.deleteFile)

			r.Get("/profile", a.getProfile)
			r.Put("/profile", a.saveProfile)
			r.Post("/profile/avatar", a.replaceAvatar)

			r.Get("/watchlists", a.listWatchLists)
			r.Get("/watchlists/stream", a.streamWatchLists)
			r.Post("/watchlists", a.createWatchList)
			r.Put("/watchlists/{id}", a.updateWatchList)
			r.Delete("/watchlists/{id}", a.deleteWatchList)
			r.Post("/watchlists/{id}/stocks", a.addStock)
			r.Delete("/watchlists/{id}/stocks/{symbol}", a.removeStock)
			r.Get("/watchlists/{id}/quotes", a.watchListQuotes)
		})
	})
}

func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := httpinfra.IdentityFrom(r.Context()); !ok {
			httpinfra.WriteError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identity(r *http.Request) domain.Identity {
	id, _ := httpinfra.IdentityFrom(r.Context())
	return id
}

// fail пишет ошибку и логирует отказы шлюзов.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpinfra.StatusFor(err) == http.StatusBadGateway {
		a.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", httpinfra.RequestID(r)).Msg("api: запрос не выполнен")
	}
	httpinfra.WriteFailure(w, err)
}

// auth

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := httpinfra.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	identity, err := a.sessions.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, identity)
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := httpinfra.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	sess, identity, err := a.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	cookie := &http.Cookie{
		Name:     httpinfra.SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if !sess.ExpiresAt.IsZero() {
		cookie.Expires = sess.ExpiresAt
	}
	http.SetCookie(w, cookie)
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"session": sess, "identity": identity})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	token := httpinfra.TokenFrom(r.Context())
	if err := a.sessions.Logout(r.Context(), token); err != nil {
		a.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: httpinfra.SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: a.secure})
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	httpinfra.WriteJSON(w, http.StatusOK, identity(r))
}

// articles

func (a *api) listArticles(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.Article
		err  error
	)
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		list, err = a.articles.ListByUser(r.Context(), userID)
	} else {
		list, err = a.articles.List(r.Context())
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, list)
}

func (a *api) getArticle(w http.ResponseWriter, r *http.Request) {
	article, err := a.articles.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, article)
}

func (a *api) articlesBySlug(w http.ResponseWriter, r *http.Request) {
	list, err := a.articles.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, list)
}

func (a *api) createArticle(w http.ResponseWriter, r *http.Request) {
	var req domain.Article
	if err := httpinfra.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	req.ID = ""
	req.UserID = identity(r).ID
	created, err := a.articles.Create(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, created)
}

// ownArticle возвращает статью, если она принадлежит текущему пользователю.
func (a *api) ownArticle(r *http.Request) (domain.Article, error) {
	article, err := a.articles.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return domain.Article{}, err
	}
	if article.UserID != identity(r).ID {
		return domain.Article{}, domain.ErrNotFound
	}
	return article, nil
}

func (a *api) updateArticle(w http.ResponseWriter, r *http.Request) {
	current, err := a.ownArticle(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req domain.Article
	if err := httpinfra.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	req.ID = current.ID
	req.UserID = current.UserID
	updated, err := a.articles.Update(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, updated)
}

func (a *api) deleteArticle(w http.ResponseWriter, r *http.Request) {
	current, err := a.ownArticle(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.articles.Delete(r.Context(), current.ID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// files

func (a *api) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		a.fail(w, r, errors.Join(domain.ErrValidation, err))
		return
	}
	defer file.Close()
	stored, err := a.articles.UploadImage(r.Context(), domain.FileUpload{Name: header.Filename, Body: file})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, stored)
}

func (a *api) getFile(w http.ResponseWriter, r *http.Request) {
	file, err := a.articles.Image(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, file)
}

func (a *api) fileURL(w http.ResponseWriter, r *http.Request) {
	url, err := a.articles.ImageURL(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (a *api) viewFile(w http.ResponseWriter, r *http.Request) {
	body, file, err := a.files.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer body.Close()
	if file.MimeType != "" {
		w.Header().Set("Content-Type", file.MimeType)
	}
	if file.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(file.Size))
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := io.Copy(w, body); err != nil {
		a.log.Warn().Err(err).Str("file_id", file.ID).Msg("api: отдача файла прервана")
	}
}

func (a *api) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := a.articles.DeleteImage(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// profile

func (a *api) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := a.profiles.Get(r.Context(), identity(r).ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if profile == nil {
		httpinfra.WriteJSON(w, http.StatusNotFound, httpinfra.ErrorResponse{Error: domain.ErrNotFound.Error()})
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, profile)
}

func (a *api) saveProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.Profile
	if err := httpinfra.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	me := identity(r)
	req.UserID = me.ID
	if req.Email == "" {
		req.Email = me.Email
	}
	saved, err := a.profiles.CreateOrUpdate(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, saved)
}

func (a *api) replaceAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		a.fail(w, r, errors.Join(domain.ErrValidation, err))
		return
	}
	defer file.Close()
	saved, err := a.profiles.ReplaceAvatar(r.Context(), identity(r).ID, domain.FileUpload{Name: header.Filename, Body: file})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, saved)
}

// watchlists

func (a *api) listWatchLists(w http.ResponseWriter, r *http.Request) {
	lists, err := a.watchlists.List(r.Context(), identity(r).ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, lists)
}

type streamEvent struct {
	Status querycache.Status  `json:"status"`
	Data   []domain.WatchList `json:"data"`
	Error  string             `json:"error,omitempty"`
}

// streamWatchLists держит живую подписку и отправляет каждое изменение как событие SSE.
func (a *api) streamWatchLists(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpinfra.WriteError(w, http.StatusNotImplemented, errors.New("streaming unsupported"))
		return
	}
	sub := a.watchlists.Subscribe(identity(r).ID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var last querycache.Result[[]domain.WatchList]
	for {
		res := sub.Result()
		if res.Status != last.Status || res.Fetching != last.Fetching || !res.UpdatedAt.Equal(last.UpdatedAt) {
			ev := streamEvent{Status: res.Status, Data: res.Data}
			if res.Fetching && res.Status == querycache.StatusSuccess {
				ev.Status = querycache.StatusLoading
			}
			if res.Err != nil {
				ev.Error = res.Err.Error()
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: watchlists\ndata: %s\n\n", raw); err != nil {
				return
			}
			flusher.Flush()
			last = res
		}
		select {
		case <-sub.Updates():
		case <-r.Context().Done():
			return
		}
	}
}

type watchListRequest struct {
	Title   string   `json:"title"`
	Stocks  []string `json:"stocks"`
	Version int      `json:"version"`
}

func (a *api) createWatchList(w http.ResponseWriter, r *http.Request) {
	var req watchListRequest
	if err := httpinfra.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.watchlists.Create(r.Context(), req.Title, identity(r).ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, created)
}

// ownWatchList проверяет, что список принадлежит текущему пользователю.
func (a *api) ownWatchList(r *http.Request) (domain.WatchList, error) {
	return a.watchlists.Get(r.Context(), identity(r).ID, chi.URLParam(r, "id"))
}

func (a *api) updateWatchList(w http.ResponseWriter, r *http.Request) {
	current, err := a.ownWatchList(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req watchListRequest
	if err := httpinfra.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	current.Title = req.Title
	if req.Stocks != nil {
		current.Stocks = req.Stocks
	}
	if req.Version != 0 {
		current.Version = req.Version
	}
	updated, err := a.watchlists.Update(r.Context(), current)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, updated)
}

func (a *api) deleteWatchList(w http.ResponseWriter, r *http.Request) {
	current, err := a.ownWatchList(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.watchlists.Delete(r.Context(), current.ID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) addStock(w http.ResponseWriter, r *http.Request) {
	current, err := a.ownWatchList(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := httpinfra.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	updated, err := a.watchlists.AddStock(r.Context(), current.ID, req.Symbol)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, updated)
}

func (a *api) removeStock(w http.ResponseWriter, r *http.Request) {
	current, err := a.ownWatchList(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	updated, err := a.watchlists.RemoveStock(r.Context(), current.ID, chi.URLParam(r, "symbol"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, updated)
}

func (a *api) watchListQuotes(w http.ResponseWriter, r *http.Request) {
	current, err := a.ownWatchList(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, a.market.WatchListQuotes(r.Context(), current.Stocks))
}

// market

func (a *api) stockOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := a.market.Overview(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"overview":             overview,
		"moving_average_delta": market.MovingAverageDeltaOf(overview),
	})
}

func (a *api) stockSeries(w http.ResponseWriter, r *http.Request) {
	interval := domain.Interval(strings.ToLower(r.URL.Query().Get("interval")))
	points, err := a.market.Series(r.Context(), chi.URLParam(r, "symbol"), interval)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, points)
}

func (a *api) stockNews(w http.ResponseWriter, r *http.Request) {
	items, err := a.market.News(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, items)
}

func (a *api) stockHeadlines(w http.ResponseWriter, r *http.Request) {
	items, err := a.market.Headlines(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, items)
}

func (a *api) stockQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := a.market.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, quote)
}

func (a *api) marketMovers(w http.ResponseWriter, r *http.Request) {
	movers, err := a.market.Movers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, movers)
}

func (a *api) marketNews(w http.ResponseWriter, r *http.Request) {
	items, err := a.market.NewsAll(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, items)
}

func (a *api) marketStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.market.Status(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, status)
}

func (a *api) marketSearch(w http.ResponseWriter, r *http.Request) {
	matches, err := a.market.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, matches)
}
