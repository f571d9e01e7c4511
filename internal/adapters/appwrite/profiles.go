package appwrite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"stockdesk/internal/domain"
)

type profileDoc struct {
	documentMeta
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Bio     string `json:"bio"`
	Avatar  string `json:"avatar"`
	Title   string `json:"title"`
	Version int    `json:"version"`
}

func (d profileDoc) toDomain() domain.Profile {
	return domain.Profile{
		ID:        d.ID,
		UserID:    d.UserID,
		Name:      d.Name,
		Email:     d.Email,
		Bio:       d.Bio,
		Avatar:    d.Avatar,
		Title:     d.Title,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func profileData(p domain.Profile, version int) map[string]any {
	return map[string]any{
		"userId":  p.UserID,
		"name":    p.Name,
		"email":   p.Email,
		"bio":     p.Bio,
		"avatar":  p.Avatar,
		"title":   p.Title,
		"version": version,
	}
}

// ProfileDocumentID выводит идентификатор документа профиля из идентификатора пользователя.
// Одинаковый ID для одного пользователя делает второе создание конфликтом, а не дубликатом.
func ProfileDocumentID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "pr" + hex.EncodeToString(sum[:])[:30]
}

// GetProfile возвращает профиль пользователя или domain.ErrNotFound.
func (c *Client) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var doc profileDoc
	err := c.getDocument(ctx, c.cfg.CollectionProfiles, ProfileDocumentID(userID), &doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Profile{}, fmt.Errorf("получение профиля: %w", err)
	}
	// Профили, созданные до детерминированных ID, ищем по атрибуту.
	var list documentList[profileDoc]
	if err := c.listDocuments(ctx, c.cfg.CollectionProfiles, []string{queryEqual("userId", userID), queryLimit(1)}, &list); err != nil {
		return domain.Profile{}, fmt.Errorf("поиск профиля: %w", err)
	}
	if len(list.Documents) == 0 {
		return domain.Profile{}, domain.ErrNotFound
	}
	return list.Documents[0].toDomain(), nil
}

// CreateOrUpdateProfile обновляет найденный профиль, в том числе созданный со случайным ID,
// и создаёт документ с детерминированным ID, только если профиля нет.
func (c *Client) CreateOrUpdateProfile(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	if profile.UserID == "" {
		return domain.Profile{}, fmt.Errorf("%w: пустой userId", domain.ErrValidation)
	}
	existing, err := c.GetProfile(ctx, profile.UserID)
	switch {
	case err == nil:
		return c.overwriteProfile(ctx, existing, profile)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Profile{}, err
	}

	var doc profileDoc
	err = c.createDocument(ctx, c.cfg.CollectionProfiles, ProfileDocumentID(profile.UserID), profileData(profile, 1), &doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return domain.Profile{}, fmt.Errorf("создание профиля: %w", err)
	}
	existing, err = c.GetProfile(ctx, profile.UserID)
	if err != nil {
		return domain.Profile{}, err
	}
	return c.overwriteProfile(ctx, existing, profile)
}

func (c *Client) overwriteProfile(ctx context.Context, existing, profile domain.Profile) (domain.Profile, error) {
	var doc profileDoc
	if err := c.updateDocument(ctx, c.cfg.CollectionProfiles, existing.ID, profileData(profile, existing.Version+1), &doc); err != nil {
		return domain.Profile{}, fmt.Errorf("обновление профиля: %w", err)
	}
	return doc.toDomain(), nil
}

// UpdateProfile перезаписывает профиль, если версия не изменилась.
// Между чтением и записью гонка всё ещё возможна: у Appwrite нет compare-and-swap.
func (c *Client) UpdateProfile(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	current, err := c.GetProfile(ctx, profile.UserID)
	if err != nil {
		return domain.Profile{}, err
	}
	if current.Version != profile.Version {
		return domain.Profile{}, domain.ErrConflict
	}
	var doc profileDoc
	if err := c.updateDocument(ctx, c.cfg.CollectionProfiles, current.ID, profileData(profile, current.Version+1), &doc); err != nil {
		return domain.Profile{}, fmt.Errorf("обновление профиля: %w", err)
	}
	return doc.toDomain(), nil
}

// DeleteProfile удаляет профиль пользователя.
func (c *Client) DeleteProfile(ctx context.Context, userID string) error {
	current, err := c.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if err := c.deleteDocument(ctx, c.cfg.CollectionProfiles, current.ID); err != nil {
		return fmt.Errorf("удаление профиля: %w", err)
	}
	return nil
}

var _ domain.ProfileStore = (*Client)(nil)
