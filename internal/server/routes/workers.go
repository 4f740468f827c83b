package routes

import (
	"context"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/pwa-cache/internal/cache"
	"github.com/any-hub/pwa-cache/internal/classify"
	"github.com/any-hub/pwa-cache/internal/metrics"
	"github.com/any-hub/pwa-cache/internal/server"
	"github.com/any-hub/pwa-cache/internal/worker"
)

// RegisterWorkerRoutes 暴露 /-/workers 诊断接口，供 SRE 查询每个 app 的控制版本与缓存版本。
func RegisterWorkerRoutes(app *fiber.App, registry *server.AppRegistry, store cache.Store) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/workers", func(c fiber.Ctx) error {
		routes := registry.List()
		payload := make([]appPayload, 0, len(routes))
		for _, route := range routes {
			payload = append(payload, encodeApp(c.Context(), route, store))
		}
		sort.Slice(payload, func(i, j int) bool {
			return payload[i].Name < payload[j].Name
		})
		return c.JSON(fiber.Map{"apps": payload})
	})

	app.Get("/-/workers/:app", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("app"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "app_name_required"})
		}
		route, ok := registry.Find(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "app_not_found"})
		}
		return c.JSON(encodeApp(c.Context(), route, store))
	})
}

// RegisterMetricsRoute 在 /-/metrics 暴露 Prometheus 指标。
func RegisterMetricsRoute(app *fiber.App, recorder *metrics.Recorder) {
	if app == nil || recorder == nil {
		return
	}
	app.Get("/-/metrics", adaptor.HTTPHandler(recorder.Handler()))
}

type appPayload struct {
	Name           string           `json:"name"`
	Domain         string           `json:"domain"`
	Origin         string           `json:"origin"`
	ConfigVersion  string           `json:"config_version"`
	Controlled     bool             `json:"controlled"`
	Controller     *worker.Info     `json:"controller,omitempty"`
	Latest         *worker.Info     `json:"latest,omitempty"`
	StoredVersions []string         `json:"stored_versions"`
	StoreError     string           `json:"store_error,omitempty"`
	APIPrefix      string           `json:"api_prefix"`
	MediaPrefix    string           `json:"media_prefix"`
	Precache       []string         `json:"precache"`
	Profiles       []profilePayload `json:"profiles"`
}

type profilePayload struct {
	Class       string `json:"class"`
	Strategy    string `json:"strategy"`
	IgnoreQuery bool   `json:"ignore_query"`
	Store       bool   `json:"store"`
	Description string `json:"description,omitempty"`
}

func encodeApp(ctx context.Context, route *server.AppRoute, store cache.Store) appPayload {
	payload := appPayload{
		Name:          route.Config.Name,
		Domain:        route.Config.Domain,
		Origin:        route.Config.Origin,
		ConfigVersion: route.Config.CacheVersion,
		APIPrefix:     route.Runtime.Rules.APIPrefix,
		MediaPrefix:   route.Runtime.Rules.MediaPrefix,
		Precache:      append([]string(nil), route.Runtime.Manifest...),
		Profiles:      encodeProfiles(route.Runtime.Profiles),
	}

	if controller := route.Registration.Controller(); controller != nil {
		info := controller.Info()
		payload.Controlled = true
		payload.Controller = &info
	}
	if latest := route.Registration.Latest(); latest != nil {
		info := latest.Info()
		payload.Latest = &info
	}

	if store != nil {
		versions, err := store.Versions(ctx, route.Config.Name)
		if err != nil {
			payload.StoreError = err.Error()
		}
		payload.StoredVersions = versions
	}
	if payload.StoredVersions == nil {
		payload.StoredVersions = []string{}
	}
	return payload
}

func encodeProfiles(profiles map[classify.Class]classify.Profile) []profilePayload {
	result := make([]profilePayload, 0, len(profiles))
	for _, class := range classify.Classes() {
		profile, ok := profiles[class]
		if !ok {
			continue
		}
		result = append(result, profilePayload{
			Class:       string(profile.Class),
			Strategy:    string(profile.Strategy),
			IgnoreQuery: profile.IgnoreQuery,
			Store:       profile.Store,
			Description: profile.Description,
		})
	}
	return result
}
