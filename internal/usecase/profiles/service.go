package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"stockdesk/internal/domain"
	"stockdesk/internal/querycache"
)

// Типы тегов кэша.
const (
	TagProfile = "Profile"
	TagFile    = "File"
)

// Service управляет профилями пользователей.
type Service struct {
	cache *querycache.Cache
	store domain.ProfileStore
	files domain.FileStore
	log   zerolog.Logger

	get       querycache.Query[string, *domain.Profile]
	avatarURL querycache.Query[string, string]

	save   querycache.Mutation[domain.Profile, domain.Profile]
	remove querycache.Mutation[string, struct{}]
}

// NewService создаёт сервис профилей.
func NewService(cache *querycache.Cache, store domain.ProfileStore, files domain.FileStore, logger zerolog.Logger) *Service {
	profileTag := func(userID string) []querycache.Tag {
		return []querycache.Tag{querycache.ItemTag(TagProfile, userID)}
	}
	return &Service{
		cache: cache,
		store: store,
		files: files,
		log:   logger,
		get: querycache.Query[string, *domain.Profile]{
			Name: "getProfile",
			Fetch: func(ctx context.Context, userID string) (*domain.Profile, error) {
				p, err := store.GetProfile(ctx, userID)
				if errors.Is(err, domain.ErrNotFound) {
					return nil, nil
				}
				if err != nil {
					return nil, err
				}
				return &p, nil
			},
			Provides: func(userID string, _ *domain.Profile, _ error) []querycache.Tag { return profileTag(userID) },
			Skip:     func(userID string) bool { return strings.TrimSpace(userID) == "" },
		},
		avatarURL: querycache.Query[string, string]{
			Name:  "getAvatarUrl",
			Fetch: files.FileViewURL,
			Provides: func(id string, _ string, _ error) []querycache.Tag {
				return []querycache.Tag{querycache.ItemTag(TagFile, id)}
			},
			Skip: func(id string) bool { return strings.TrimSpace(id) == "" },
		},
		save: querycache.Mutation[domain.Profile, domain.Profile]{
			Name:        "createOrUpdateProfile",
			Do:          store.CreateOrUpdateProfile,
			Invalidates: func(p domain.Profile, _ domain.Profile) []querycache.Tag { return profileTag(p.UserID) },
		},
		remove: querycache.Mutation[string, struct{}]{
			Name: "deleteProfile",
			Do: func(ctx context.Context, userID string) (struct{}, error) {
				return struct{}{}, store.DeleteProfile(ctx, userID)
			},
			Invalidates: func(userID string, _ struct{}) []querycache.Tag { return profileTag(userID) },
		},
	}
}

// Get возвращает профиль пользователя или nil, если его нет.
func (s *Service) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	return querycache.Get(ctx, s.cache, s.get, userID)
}

// CreateOrUpdate сохраняет профиль. Хранилище гарантирует один профиль на пользователя.
func (s *Service) CreateOrUpdate(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return domain.Profile{}, fmt.Errorf("%w: пользователь не указан", domain.ErrValidation)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.Profile{}, fmt.Errorf("%w: имя обязательно", domain.ErrValidation)
	}
	return querycache.Run(ctx, s.cache, s.save, p)
}

// Delete удаляет профиль.
func (s *Service) Delete(ctx context.Context, userID string) error {
	_, err := querycache.Run(ctx, s.cache, s.remove, userID)
	return err
}

// ReplaceAvatar загружает новый аватар, сохраняет его в профиле и только затем удаляет старый файл.
func (s *Service) ReplaceAvatar(ctx context.Context, userID string, upload domain.FileUpload) (domain.Profile, error) {
	file, err := s.files.UploadFile(ctx, upload)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("загрузка аватара: %w", err)
	}
	current, err := s.store.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.dropFile(ctx, file.ID)
		return domain.Profile{}, fmt.Errorf("получение профиля: %w", err)
	}
	oldAvatar := current.Avatar
	current.UserID = userID
	current.Avatar = file.ID
	if current.Name == "" {
		current.Name = userID
	}
	saved, err := querycache.Run(ctx, s.cache, s.save, current)
	if err != nil {
		s.dropFile(ctx, file.ID)
		return domain.Profile{}, err
	}
	if oldAvatar != "" && oldAvatar != file.ID {
		s.dropFile(ctx, oldAvatar)
		s.cache.Invalidate(ctx, querycache.ItemTag(TagFile, oldAvatar))
	}
	return saved, nil
}

func (s *Service) dropFile(ctx context.Context, id string) {
	if err := s.files.DeleteFile(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn().Err(err).Str("file_id", id).Msg("profiles: не удалось удалить файл аватара")
	}
}

// AvatarURL возвращает ссылку просмотра аватара.
func (s *Service) AvatarURL(ctx context.Context, fileID string) (string, error) {
	return querycache.Get(ctx, s.cache, s.avatarURL, fileID)
}
