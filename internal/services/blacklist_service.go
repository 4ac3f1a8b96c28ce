package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/sentinelpay/backend/internal/audit"
	"github.com/sentinelpay/backend/internal/middleware"
	"github.com/sentinelpay/backend/internal/models"
)

// BlacklistService is the registry of blocked accounts and IPs. Entries are
// keyed per identifier, adds are idempotent upserts, and nothing expires:
// once present an identifier blocks until explicitly removed.
type BlacklistService struct {
	redis     *redis.Client
	audit     *audit.AuditLogger
	validator *ValidationHelper
}

func NewBlacklistService(redisClient *redis.Client) *BlacklistService {
	return &BlacklistService{
		redis:     redisClient,
		audit:     audit.NewAuditLogger(),
		validator: NewValidationHelper(),
	}
}

func blacklistKey(kind, value string) string {
	return fmt.Sprintf("blacklist:%s:%s", kind, value)
}

// IsBlocked reports whether the identifier is on the blacklist. A registry
// failure is an error, never a silent pass: the engine must not guess.
func (s *BlacklistService) IsBlocked(ctx context.Context, kind, value string) (bool, error) {
	exists, err := s.redis.Exists(ctx, blacklistKey(kind, value)).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist lookup failed: %w", err)
	}
	return exists > 0, nil
}

// Add upserts the identifier. Re-adding an existing entry updates the reason
// without duplicating; the original added_at is preserved.
func (s *BlacklistService) Add(ctx context.Context, kind, value, reason, blockedBy string) error {
	key := blacklistKey(kind, value)

	if err := s.redis.HSetNX(ctx, key, "added_at", time.Now().Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("blacklist add failed: %w", err)
	}
	if err := s.redis.HSet(ctx, key, "reason", reason, "blocked_by", blockedBy).Err(); err != nil {
		return fmt.Errorf("blacklist add failed: %w", err)
	}

	s.audit.LogBlacklist(kind, value, reason, blockedBy)
	log.Printf("[BLACKLIST] Added %s %s: %s", kind, value, reason)
	return nil
}

// Remove deletes the identifier from the registry.
func (s *BlacklistService) Remove(ctx context.Context, kind, value string) error {
	if err := s.redis.Del(ctx, blacklistKey(kind, value)).Err(); err != nil {
		return fmt.Errorf("blacklist remove failed: %w", err)
	}
	log.Printf("[BLACKLIST] Removed %s %s", kind, value)
	return nil
}

// Get returns the entry for an identifier, or nil when not blacklisted.
func (s *BlacklistService) Get(ctx context.Context, kind, value string) (*models.BlacklistEntry, error) {
	fields, err := s.redis.HGetAll(ctx, blacklistKey(kind, value)).Result()
	if err != nil {
		return nil, fmt.Errorf("blacklist get failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	entry := &models.BlacklistEntry{
		Kind:      kind,
		Value:     value,
		Reason:    fields["reason"],
		BlockedBy: fields["blocked_by"],
	}
	if ts, err := time.Parse(time.RFC3339, fields["added_at"]); err == nil {
		entry.AddedAt = ts
	}
	return entry, nil
}

// List returns every entry of the given kind. Admin surface only; the scoring
// path always looks identifiers up directly.
func (s *BlacklistService) List(ctx context.Context, kind string) ([]models.BlacklistEntry, error) {
	pattern := fmt.Sprintf("blacklist:%s:*", kind)
	prefix := fmt.Sprintf("blacklist:%s:", kind)

	entries := []models.BlacklistEntry{}
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("blacklist scan failed: %w", err)
		}
		for _, key := range keys {
			entry, err := s.Get(ctx, kind, strings.TrimPrefix(key, prefix))
			if err != nil {
				return nil, err
			}
			if entry != nil {
				entries = append(entries, *entry)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return entries, nil
}

// HTTP surface (admin)

type blacklistRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=account ip"`
	Value  string `json:"value" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// AddEntry handles manual blacklist additions
// @Summary Blacklist an identifier
// @Description Add an account or IP to the blacklist
// @Tags blacklist
// @Accept json
// @Produce json
// @Param request body blacklistRequest true "Entry to add"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /blacklist [post]
func (s *BlacklistService) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	blockedBy, _ := r.Context().Value(middleware.AccountKey).(string)
	if err := s.Add(r.Context(), req.Kind, req.Value, req.Reason, blockedBy); err != nil {
		log.Printf("[BLACKLIST] Add failed for %s %s: %v", req.Kind, req.Value, err)
		SendErrorResponse(w, "Failed to update blacklist", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "added"})
}

// ListEntries lists blacklist entries of a kind
// @Summary List blacklist entries
// @Description List all blacklisted accounts or IPs
// @Tags blacklist
// @Produce json
// @Param kind path string true "Identifier kind (account|ip)"
// @Success 200 {object} object{entries=[]models.BlacklistEntry,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /blacklist/{kind} [get]
func (s *BlacklistService) ListEntries(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	entries, err := s.List(r.Context(), kind)
	if err != nil {
		log.Printf("[BLACKLIST] List failed for kind %s: %v", kind, err)
		SendErrorResponse(w, "Failed to read blacklist", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetEntry retrieves a blacklist entry
// @Summary Get blacklist entry
// @Description Look up a blacklisted account or IP
// @Tags blacklist
// @Produce json
// @Param kind path string true "Identifier kind (account|ip)"
// @Param value path string true "Identifier value"
// @Success 200 {object} models.BlacklistEntry
// @Failure 404 {object} ErrorResponse
// @Router /blacklist/{kind}/{value} [get]
func (s *BlacklistService) GetEntry(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	value := chi.URLParam(r, "value")

	entry, err := s.Get(r.Context(), kind, value)
	if err != nil {
		SendErrorResponse(w, "Failed to read blacklist", http.StatusInternalServerError, nil)
		return
	}
	if entry == nil {
		SendErrorResponse(w, "Identifier not blacklisted", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// RemoveEntry deletes a blacklist entry
// @Summary Remove blacklist entry
// @Description Explicitly unblock an account or IP
// @Tags blacklist
// @Produce json
// @Param kind path string true "Identifier kind (account|ip)"
// @Param value path string true "Identifier value"
// @Success 200 {object} map[string]string
// @Router /blacklist/{kind}/{value} [delete]
func (s *BlacklistService) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	value := chi.URLParam(r, "value")

	if err := s.Remove(r.Context(), kind, value); err != nil {
		SendErrorResponse(w, "Failed to update blacklist", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "removed"})
}
