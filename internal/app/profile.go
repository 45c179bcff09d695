package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"

	"questive/api/internal/store"
)

// ProfileInput carries the editable profile fields. Skill history and AI
// quota counters are never client-writable.
type ProfileInput struct {
	CurrentRole     string   `json:"currentRole"`
	YearsExperience *int     `json:"yearsExperience"`
	Company         string   `json:"company"`
	Skills          []string `json:"skills"`
	Bio             string   `json:"bio"`
}

// GetAccount returns the caller's basic account record, resolving the
// stored avatar key to a presigned URL when object storage is configured.
func (s *Service) GetAccount(ctx context.Context, session Session) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.User{}, err
	}
	if user.AvatarURL != "" && s.avatars != nil {
		url, err := s.avatars.PresignedURL(ctx, user.AvatarURL)
		if err != nil {
			log.Printf("avatar: presign for %s: %v", session.UserID, err)
		} else {
			user.AvatarURL = url
		}
	}
	return user, nil
}

// GetExtendedProfile returns the extended profile, or ok=false when the
// user has never saved one.
func (s *Service) GetExtendedProfile(ctx context.Context, session Session) (store.UserProfile, bool, error) {
	profile, err := s.store.GetProfile(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.UserProfile{}, false, nil
		}
		return store.UserProfile{}, false, err
	}
	return profile, true, nil
}

// SaveProfile creates or replaces the editable profile fields.
func (s *Service) SaveProfile(ctx context.Context, session Session, input ProfileInput) (store.UserProfile, error) {
	skills := input.Skills
	if skills == nil {
		skills = []string{}
	}
	profile := store.UserProfile{
		UserID:          session.UserID,
		CurrentRole:     input.CurrentRole,
		YearsExperience: input.YearsExperience,
		Company:         input.Company,
		Skills:          skills,
		Bio:             input.Bio,
	}
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return store.UserProfile{}, actionError("Failed to update profile")
	}
	return s.store.GetProfile(ctx, session.UserID)
}

// GetSkillsGained returns the AI-accumulated skill history; users without
// a profile get an empty list.
func (s *Service) GetSkillsGained(ctx context.Context, session Session) ([]string, error) {
	profile, err := s.store.GetProfile(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []string{}, nil
		}
		return nil, err
	}
	if profile.SkillsGained == nil {
		return []string{}, nil
	}
	return profile.SkillsGained, nil
}

// UploadAvatar stores the image and records its object key on the user.
func (s *Service) UploadAvatar(ctx context.Context, session Session, body io.Reader, size int64, contentType string) (string, error) {
	if s.avatars == nil {
		return "", actionError("Avatar storage is not configured")
	}
	key, err := s.avatars.Upload(ctx, session.UserID, body, size, contentType)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateUserAvatar(ctx, session.UserID, key); err != nil {
		return "", err
	}
	url, err := s.avatars.PresignedURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("presign avatar: %w", err)
	}
	return url, nil
}

// DeleteAccount removes the user and, through foreign keys, everything
// they own. The refresh session is revoked so the deletion also signs the
// caller out.
func (s *Service) DeleteAccount(ctx context.Context, session Session, refreshToken string) error {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, session.UserID); err != nil {
		return actionError("Failed to delete account")
	}
	if user.AvatarURL != "" && s.avatars != nil {
		if err := s.avatars.Remove(ctx, user.AvatarURL); err != nil {
			log.Printf("avatar: remove for %s: %v", session.UserID, err)
		}
	}
	if refreshToken != "" {
		if err := s.Logout(ctx, refreshToken); err != nil {
			log.Printf("session: revoke on account delete: %v", err)
		}
	}
	return nil
}
