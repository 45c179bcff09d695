package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"questive/api/internal/store"
	"questive/api/internal/util"
)

const (
	defaultCategoryColor = "#3b82f6"
	defaultCategoryIcon  = "folder"
)

type CategoryInput struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// ListCategories returns the user's categories, newest first, each carrying
// the ids and statuses of its goals.
func (s *Service) ListCategories(ctx context.Context, session Session) ([]store.CategoryWithGoals, error) {
	return s.store.ListCategories(ctx, session.UserID)
}

func (s *Service) GetCategory(ctx context.Context, session Session, categoryID string) (store.Category, error) {
	category, err := s.store.GetCategory(ctx, session.UserID, categoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Category{}, domainError(http.StatusNotFound, "NOT_FOUND", "Category not found", nil)
		}
		return store.Category{}, err
	}
	return category, nil
}

func (s *Service) CreateCategory(ctx context.Context, session Session, input CategoryInput) (store.Category, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Category{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	category := store.Category{
		ID:     util.NewID("cat"),
		UserID: session.UserID,
		Name:   name,
		Color:  input.Color,
		Icon:   input.Icon,
	}
	if category.Color == "" {
		category.Color = defaultCategoryColor
	}
	if category.Icon == "" {
		category.Icon = defaultCategoryIcon
	}

	if err := s.store.InsertCategory(ctx, category); err != nil {
		return store.Category{}, fmt.Errorf("create category: %w", err)
	}
	return s.store.GetCategory(ctx, session.UserID, category.ID)
}

// UpdateCategory applies a partial update. Fields left empty keep their
// current value.
func (s *Service) UpdateCategory(ctx context.Context, session Session, categoryID string, input CategoryInput) (store.Category, error) {
	category, err := s.store.GetCategory(ctx, session.UserID, categoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Category{}, domainError(http.StatusNotFound, "NOT_FOUND", "Category not found", nil)
		}
		return store.Category{}, err
	}

	if name := strings.TrimSpace(input.Name); name != "" {
		category.Name = name
	}
	if input.Color != "" {
		category.Color = input.Color
	}
	if input.Icon != "" {
		category.Icon = input.Icon
	}

	if err := s.store.UpdateCategory(ctx, category.ID, category.Name, category.Color, category.Icon); err != nil {
		return store.Category{}, fmt.Errorf("update category: %w", err)
	}
	return category, nil
}

// DeleteCategory removes a category and, via cascade, its goals, their
// milestones, and any tasks those milestones materialized.
func (s *Service) DeleteCategory(ctx context.Context, session Session, categoryID string) error {
	if _, err := s.store.GetCategory(ctx, session.UserID, categoryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Category not found", nil)
		}
		return err
	}

	cascade, err := s.store.DeleteCategory(ctx, categoryID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}

	s.purgeSearchIndex(cascade)
	return nil
}
