package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"certmarket/internal/auth"
	"certmarket/internal/db"
	"certmarket/internal/globaltime"
	"certmarket/internal/listing"
	"certmarket/internal/tags"
	"certmarket/internal/view"
)

const maxIngestBodyBytes = 1 << 20

func (s *Server) currentSnapshot(c echo.Context) (*view.Snapshot, error) {
	snapshot := s.store.Current()
	if snapshot == nil {
		return nil, failUnavailable(c, "Snapshot is not ready yet")
	}
	return snapshot, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	data := map[string]any{
		"service": "certmarket",
		"time":    globaltime.UTC(),
	}
	if snapshot := s.store.Current(); snapshot != nil {
		data["snapshot_built_at"] = snapshot.BuiltAt
		data["ruleset"] = snapshot.RuleVersion
	}
	return success(c, data)
}

func (s *Server) handleSearch(c echo.Context) error {
	snapshot, err := s.currentSnapshot(c)
	if err != nil {
		return err
	}

	category, hasCategory, err := listing.ParseCategory(c.QueryParam("category"))
	if err != nil {
		return failValidation(c, map[string]string{"category": err.Error()})
	}

	limit, err := parseBoundedInt(c.QueryParam("limit"), s.opts.SearchDefaultLimit, 1, s.opts.SearchMaxLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	offset, err := parseBoundedInt(c.QueryParam("offset"), 0, 0, 1_000_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"offset": err.Error()})
	}

	tagsParam := c.QueryParam("tags")
	if strings.TrimSpace(tagsParam) == "" {
		tagsParam = c.QueryParam("certificate")
	}

	params := view.SearchParams{
		Location:        c.QueryParam("location"),
		CertificateTags: splitTagsParam(tagsParam),
		Limit:           limit,
		Offset:          offset,
	}
	if hasCategory {
		params.Category = &category
	}

	result := snapshot.Search(params)

	counts := snapshot.CategoryCounts()
	return success(c, map[string]any{
		"items": result.Classes,
		"pagination": map[string]any{
			"limit":       limit,
			"offset":      offset,
			"total_items": result.Total,
		},
		"category_counts": map[string]any{
			"demand": counts[listing.CategoryDemand],
			"supply": counts[listing.CategorySupply],
			"other":  counts[listing.CategoryOther],
		},
		"filters": map[string]any{
			"category": c.QueryParam("category"),
			"location": strings.TrimSpace(c.QueryParam("location")),
			"tags":     params.CertificateTags,
		},
	})
}

// handleTags serves tag suggestions when q is present and the trending
// tag list otherwise.
func (s *Server) handleTags(c echo.Context) error {
	snapshot, err := s.currentSnapshot(c)
	if err != nil {
		return err
	}

	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		query = strings.TrimSpace(c.QueryParam("search"))
	}

	defaultLimit := s.opts.TrendingTagLimit
	if query != "" {
		defaultLimit = s.opts.TagSuggestionLimit
	}
	limit, err := parseBoundedInt(c.QueryParam("limit"), defaultLimit, 1, s.opts.TagMaxLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	opts := tags.FrequencyOptions{Limit: limit}
	mode := "trending"
	if query != "" {
		opts.Search = query
		mode = "suggestion"
	} else {
		opts.MinSupport = s.opts.TrendingMinSupport
	}

	return success(c, map[string]any{
		"items": snapshot.TagFrequencies(opts),
		"mode":  mode,
		"q":     query,
		"limit": limit,
	})
}

func (s *Server) handleMatchingAggregate(c echo.Context) error {
	snapshot, err := s.currentSnapshot(c)
	if err != nil {
		return err
	}

	return success(c, map[string]any{
		"items":    snapshot.AggregateTagStats(),
		"built_at": snapshot.BuiltAt,
	})
}

func (s *Server) handleMatchingDemand(c echo.Context) error {
	snapshot, err := s.currentSnapshot(c)
	if err != nil {
		return err
	}

	listingID, err := strconv.ParseInt(strings.TrimSpace(c.Param("listing_id")), 10, 64)
	if err != nil || listingID <= 0 {
		return failValidation(c, map[string]string{"listing_id": "must be a positive integer"})
	}

	availability, class, ok := snapshot.DemandAvailability(listingID)
	if !ok {
		return failNotFound(c, "Demand listing not found")
	}

	return success(c, map[string]any{
		"availability": availability,
		"listing":      class,
	})
}

// handleListingByMessage resolves one raw record by its source message
// ID, straight from the store. Collectors use it to check whether a
// message they saw was already captured.
func (s *Server) handleListingByMessage(c echo.Context) error {
	if s.database == nil {
		return failUnavailable(c, "Store lookups are not available")
	}

	messageID := strings.TrimSpace(c.Param("message_id"))
	if messageID == "" {
		return failValidation(c, map[string]string{"message_id": "is required"})
	}

	record, err := s.database.FindRecordByMessageID(c.Request().Context(), messageID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Listing not found")
		}
		s.logger.Error().Err(err).Str("message_id", messageID).Msg("message lookup failed")
		return internalError(c, "Failed to load listing")
	}

	return success(c, map[string]any{"listing": record})
}

// handleListingsByGroup returns a chat group's raw records, newest
// first, without dedup collapsing.
func (s *Server) handleListingsByGroup(c echo.Context) error {
	if s.database == nil {
		return failUnavailable(c, "Store lookups are not available")
	}

	groupID := strings.TrimSpace(c.Param("group_id"))
	if groupID == "" {
		return failValidation(c, map[string]string{"group_id": "is required"})
	}
	limit, err := parseBoundedInt(c.QueryParam("limit"), s.opts.SearchDefaultLimit, 1, s.opts.SearchMaxLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	records, err := s.database.FindRecordsByGroup(c.Request().Context(), groupID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("group_id", groupID).Msg("group lookup failed")
		return internalError(c, "Failed to load listings")
	}

	return success(c, map[string]any{
		"items":    records,
		"group_id": groupID,
		"limit":    limit,
	})
}

// handleListingsByCertificate returns raw records carrying one exact
// tag, newest first. Unlike /search this reads the store directly and
// does not collapse reposts.
func (s *Server) handleListingsByCertificate(c echo.Context) error {
	if s.database == nil {
		return failUnavailable(c, "Store lookups are not available")
	}

	tag := strings.TrimSpace(c.Param("tag"))
	if tag == "" {
		return failValidation(c, map[string]string{"tag": "is required"})
	}
	limit, err := parseBoundedInt(c.QueryParam("limit"), s.opts.SearchDefaultLimit, 1, s.opts.SearchMaxLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	records, err := s.database.FindRecordsByCertificate(c.Request().Context(), tag, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("tag", tag).Msg("certificate lookup failed")
		return internalError(c, "Failed to load listings")
	}

	return success(c, map[string]any{
		"items": records,
		"tag":   tag,
		"limit": limit,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	snapshot, err := s.currentSnapshot(c)
	if err != nil {
		return err
	}

	counts := snapshot.CategoryCounts()
	data := map[string]any{
		"snapshot": map[string]any{
			"built_at":     snapshot.BuiltAt,
			"ruleset":      snapshot.RuleVersion,
			"demand_count": counts[listing.CategoryDemand],
			"supply_count": counts[listing.CategorySupply],
			"other_count":  counts[listing.CategoryOther],
		},
	}

	if s.database != nil {
		ctx := c.Request().Context()
		listingStats, err := s.database.QueryListingStats(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("query listing stats failed")
			return internalError(c, "Failed to load stats")
		}
		rawStats, err := s.database.QueryRawMessageStats(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("query raw message stats failed")
			return internalError(c, "Failed to load stats")
		}
		data["listings"] = listingStats
		data["raw_messages"] = rawStats
	}

	return success(c, data)
}

func (s *Server) handleIngestListings(c echo.Context) error {
	if s.ingester == nil {
		return failUnavailable(c, "Ingest is not enabled")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxIngestBodyBytes+1))
	if err != nil {
		return fail(c, http.StatusBadRequest, "Failed to read request body", nil)
	}
	if len(body) > maxIngestBodyBytes {
		return fail(c, http.StatusRequestEntityTooLarge, "Request body too large", nil)
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return failValidation(c, map[string]string{"body": "payload JSON is required"})
	}

	ctx := c.Request().Context()
	var result any
	if strings.HasPrefix(trimmed, "[") {
		batchResult, err := s.ingester.IngestBatch(ctx, []byte(trimmed))
		if err != nil {
			return failValidation(c, map[string]string{"body": err.Error()})
		}
		result = batchResult
	} else {
		oneResult, err := s.ingester.IngestOne(ctx, []byte(trimmed))
		if err != nil {
			return failValidation(c, map[string]string{"body": err.Error()})
		}
		result = oneResult
	}

	// New rows should show up without waiting for the next ticker cycle.
	if err := s.store.Refresh(ctx); err != nil {
		s.logger.Error().Err(err).Msg("post-ingest snapshot refresh failed")
	}

	return successWithStatus(c, http.StatusCreated, result)
}

// requireIngestToken guards the write endpoints with a bearer token
// checked against the configured bcrypt hash.
func (s *Server) requireIngestToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := auth.ParseBearer(c.Request().Header.Get("Authorization"))
		if token == "" {
			return failUnauthorized(c, "Bearer token required")
		}
		if !auth.VerifyToken(token, s.opts.IngestTokenHash) {
			return failUnauthorized(c, "Invalid token")
		}
		return next(c)
	}
}

func parseBoundedInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func splitTagsParam(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		tag := strings.TrimSpace(part)
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
