// Package reviews stores service reviews and aggregates them. One review per
// (service, reviewer), one provider response per review, one helpful vote per
// (review, user).
package reviews

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aldoetobex/weka-backend/internal/monitoring"
	"github.com/aldoetobex/weka-backend/pkg/apperr"
	"github.com/aldoetobex/weka-backend/pkg/models"
	"github.com/aldoetobex/weka-backend/pkg/patch"
)

const (
	titleMin    = 5
	titleMax    = 100
	commentMin  = 10
	responseMin = 10
	responseMax = 500

	defaultLimit = 10
	maxLimit     = 50
)

// Sort orders accepted by List.
const (
	SortNewest       = "newest"
	SortHighestRated = "highest_rated"
	SortLowestRated  = "lowest_rated"
	SortMostHelpful  = "most_helpful"
)

type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

/* ============================== Validation ============================== */

type fieldCodes struct{ rating, title, comment string }

var (
	submitCodes = fieldCodes{rating: "INVALID_RATING", title: "INVALID_TITLE", comment: "INVALID_COMMENT"}
	updateCodes = fieldCodes{rating: "INVALID_RATING", title: "INVALID_TITLE_LENGTH", comment: "INVALID_COMMENT_LENGTH"}
)

// checkFields validates whichever fields are non-nil. The error code is the
// first failing field's; every failure is itemised in Fields.
func checkFields(codes fieldCodes, rating *int, title, comment *string) *apperr.Error {
	var e *apperr.Error
	add := func(code, field, msg string) {
		if e == nil {
			e = apperr.Validation(code, msg)
		}
		e.WithField(field, msg)
	}

	if rating != nil && (*rating < 1 || *rating > 5) {
		add(codes.rating, "rating", "Rating must be an integer between 1 and 5")
	}
	if title != nil {
		if n := utf8.RuneCountInString(strings.TrimSpace(*title)); n < titleMin || n > titleMax {
			add(codes.title, "title", fmt.Sprintf("Title must be between %d and %d characters", titleMin, titleMax))
		}
	}
	if comment != nil {
		if utf8.RuneCountInString(strings.TrimSpace(*comment)) < commentMin {
			add(codes.comment, "comment", fmt.Sprintf("Comment must be at least %d characters", commentMin))
		}
	}
	return e
}

func errReviewNotFound() error {
	return apperr.NotFound("REVIEW_NOT_FOUND", "Review not found")
}

func errServiceNotFound() error {
	return apperr.NotFound("SERVICE_NOT_FOUND", "Service not found")
}

/* ================================ Submit ================================ */

type SubmitInput struct {
	ServiceID        uuid.UUID
	Rating           int
	Title            string
	Comment          string
	VerifiedPurchase bool
}

// Submit posts reviewerID's review of a service. The reviewer's display name
// is copied onto the review at write time.
func (s *Service) Submit(ctx context.Context, reviewerID uuid.UUID, in SubmitInput) (models.Review, error) {
	if e := checkFields(submitCodes, &in.Rating, &in.Title, &in.Comment); e != nil {
		return models.Review{}, e
	}

	db := s.db.WithContext(ctx)
	svc, err := s.loadService(ctx, in.ServiceID)
	if err != nil {
		return models.Review{}, err
	}
	if svc.OwnerID == reviewerID {
		return models.Review{}, apperr.SelfReview("CANNOT_REVIEW_OWN_SERVICE", "You cannot review your own service")
	}

	var existing int64
	if err := db.Model(&models.Review{}).
		Where("service_id = ? AND reviewer_id = ?", in.ServiceID, reviewerID).
		Count(&existing).Error; err != nil {
		return models.Review{}, fmt.Errorf("check duplicate review: %w", err)
	}
	if existing > 0 {
		return models.Review{}, errDuplicateReview()
	}

	name := "Anonymous"
	var u models.User
	if err := db.Select("name").First(&u, "id = ?", reviewerID).Error; err == nil && strings.TrimSpace(u.Name) != "" {
		name = strings.TrimSpace(u.Name)
	}

	now := s.now()
	rv := models.Review{
		ServiceID:        in.ServiceID,
		ReviewerID:       reviewerID,
		ReviewerName:     name,
		Rating:           in.Rating,
		Title:            strings.TrimSpace(in.Title),
		Comment:          strings.TrimSpace(in.Comment),
		VerifiedPurchase: in.VerifiedPurchase,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := db.Create(&rv).Error; err != nil {
		// unique (service_id, reviewer_id) catches a concurrent twin
		if apperr.IsUniqueViolation(err) {
			return models.Review{}, errDuplicateReview()
		}
		return models.Review{}, fmt.Errorf("create review: %w", err)
	}
	monitoring.ReviewEvents.WithLabelValues("submitted").Inc()
	return rv, nil
}

func errDuplicateReview() error {
	return apperr.Duplicate("DUPLICATE_REVIEW", "You have already reviewed this service")
}

/* =============================== Respond ================================ */

// Respond attaches the service owner's single response to a review.
func (s *Service) Respond(ctx context.Context, reviewID, responderID uuid.UUID, text string) (models.Review, error) {
	text = strings.TrimSpace(text)
	switch n := utf8.RuneCountInString(text); {
	case n == 0:
		return models.Review{}, apperr.Validation("MISSING_RESPONSE", "Response text is required")
	case n < responseMin:
		return models.Review{}, apperr.Validation("RESPONSE_TOO_SHORT", fmt.Sprintf("Response must be at least %d characters", responseMin))
	case n > responseMax:
		return models.Review{}, apperr.Validation("RESPONSE_TOO_LONG", fmt.Sprintf("Response must be at most %d characters", responseMax))
	}

	rv, err := s.Get(ctx, reviewID)
	if err != nil {
		return models.Review{}, err
	}
	if rv.ProviderResponse != nil {
		return models.Review{}, errResponseExists()
	}
	svc, err := s.loadService(ctx, rv.ServiceID)
	if err != nil {
		return models.Review{}, err
	}
	if svc.OwnerID != responderID {
		return models.Review{}, apperr.Permission("NOT_SERVICE_OWNER", "Only the service owner can respond to reviews")
	}
	if rv.ReviewerID == responderID {
		return models.Review{}, apperr.SelfReview("CANNOT_RESPOND_TO_OWN_REVIEW", "You cannot respond to your own review")
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("id = ? AND provider_response IS NULL", reviewID).
		Updates(map[string]any{
			"provider_response": text,
			"response_date":     now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return models.Review{}, fmt.Errorf("save response: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Review{}, errResponseExists()
	}
	monitoring.ReviewEvents.WithLabelValues("responded").Inc()
	return s.Get(ctx, reviewID)
}

func errResponseExists() error {
	return apperr.Conflict("RESPONSE_ALREADY_EXISTS", "A response already exists for this review").WithStatus(400)
}

/* ============================ Helpful votes ============================= */

// MarkHelpful records userID's vote and bumps the counter in one transaction.
// The unique (review_id, user_id) index rejects a second vote.
func (s *Service) MarkHelpful(ctx context.Context, reviewID, userID uuid.UUID) (models.Review, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rv models.Review
		if err := tx.Select("id").First(&rv, "id = ?", reviewID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errReviewNotFound()
			}
			return err
		}

		vote := models.ReviewHelpful{ReviewID: reviewID, UserID: userID, CreatedAt: s.now()}
		if err := tx.Create(&vote).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.Conflict("ALREADY_MARKED_HELPFUL", "You have already marked this review as helpful").WithStatus(400)
			}
			return err
		}

		return tx.Model(&models.Review{}).Where("id = ?", reviewID).
			Updates(map[string]any{
				"helpful_count": gorm.Expr("helpful_count + 1"),
				"updated_at":    s.now(),
			}).Error
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return models.Review{}, err
		}
		return models.Review{}, fmt.Errorf("mark helpful: %w", err)
	}
	monitoring.ReviewEvents.WithLabelValues("helpful").Inc()
	return s.Get(ctx, reviewID)
}

/* ============================ Update / Delete ============================ */

// UpdateInput is a partial edit; absent fields keep their value.
type UpdateInput struct {
	Rating  patch.Field[int]    `json:"rating"`
	Title   patch.Field[string] `json:"title"`
	Comment patch.Field[string] `json:"comment"`
}

func (s *Service) ownReview(ctx context.Context, reviewID, ownerID uuid.UUID) (models.Review, error) {
	rv, err := s.Get(ctx, reviewID)
	if err != nil {
		return models.Review{}, err
	}
	if rv.ReviewerID != ownerID {
		return models.Review{}, apperr.Permission("NOT_REVIEW_OWNER", "You can only modify your own reviews")
	}
	return rv, nil
}

// Update edits rating, title or comment of ownerID's review.
func (s *Service) Update(ctx context.Context, reviewID, ownerID uuid.UUID, in UpdateInput) (models.Review, error) {
	if _, err := s.ownReview(ctx, reviewID, ownerID); err != nil {
		return models.Review{}, err
	}

	if in.Rating.Null || in.Title.Null || in.Comment.Null {
		return models.Review{}, apperr.Validation("INVALID_FIELD", "rating, title and comment cannot be cleared")
	}

	var rating *int
	var title, comment *string
	updates := map[string]any{}
	if in.Rating.Present() {
		rating = &in.Rating.Value
		updates["rating"] = in.Rating.Value
	}
	if in.Title.Present() {
		title = &in.Title.Value
		updates["title"] = strings.TrimSpace(in.Title.Value)
	}
	if in.Comment.Present() {
		comment = &in.Comment.Value
		updates["comment"] = strings.TrimSpace(in.Comment.Value)
	}
	if e := checkFields(updateCodes, rating, title, comment); e != nil {
		return models.Review{}, e
	}
	if len(updates) == 0 {
		return models.Review{}, apperr.Validation("NO_UPDATES", "Nothing to update")
	}
	updates["updated_at"] = s.now()

	if err := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("id = ? AND reviewer_id = ?", reviewID, ownerID).
		Updates(updates).Error; err != nil {
		return models.Review{}, fmt.Errorf("update review: %w", err)
	}
	monitoring.ReviewEvents.WithLabelValues("updated").Inc()
	return s.Get(ctx, reviewID)
}

// Delete removes ownerID's review and its helpful votes.
func (s *Service) Delete(ctx context.Context, reviewID, ownerID uuid.UUID) (models.Review, error) {
	rv, err := s.ownReview(ctx, reviewID, ownerID)
	if err != nil {
		return models.Review{}, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("review_id = ?", reviewID).Delete(&models.ReviewHelpful{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND reviewer_id = ?", reviewID, ownerID).Delete(&models.Review{}).Error
	})
	if err != nil {
		return models.Review{}, fmt.Errorf("delete review: %w", err)
	}
	monitoring.ReviewEvents.WithLabelValues("deleted").Inc()
	return rv, nil
}

/* ================================= Read ================================= */

func (s *Service) Get(ctx context.Context, reviewID uuid.UUID) (models.Review, error) {
	var rv models.Review
	if err := s.db.WithContext(ctx).First(&rv, "id = ?", reviewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Review{}, errReviewNotFound()
		}
		return models.Review{}, fmt.Errorf("load review: %w", err)
	}
	return rv, nil
}

func (s *Service) loadService(ctx context.Context, id uuid.UUID) (models.Service, error) {
	var svc models.Service
	if err := s.db.WithContext(ctx).Select("id", "owner_id").First(&svc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Service{}, errServiceNotFound()
		}
		return models.Service{}, fmt.Errorf("load service: %w", err)
	}
	return svc, nil
}

// ListOptions selects one page of a service's reviews.
type ListOptions struct {
	Sort         string
	VerifiedOnly bool
	Limit        int
	Offset       int
}

func (o ListOptions) normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.Limit > maxLimit {
		o.Limit = maxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	switch o.Sort {
	case SortNewest, SortHighestRated, SortLowestRated, SortMostHelpful:
	default:
		o.Sort = SortNewest
	}
	return o
}

// orderBy always ends with created_at DESC so ties are newest first.
func orderBy(sort string) string {
	switch sort {
	case SortHighestRated:
		return "rating DESC, created_at DESC, id DESC"
	case SortLowestRated:
		return "rating ASC, created_at DESC, id DESC"
	case SortMostHelpful:
		return "helpful_count DESC, created_at DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

type RatingCounts struct {
	FiveStar  int64 `json:"fiveStar"`
	FourStar  int64 `json:"fourStar"`
	ThreeStar int64 `json:"threeStar"`
	TwoStar   int64 `json:"twoStar"`
	OneStar   int64 `json:"oneStar"`
}

// Stats aggregate every review of the service, whatever the page filter.
type Stats struct {
	AverageRating float64      `json:"averageRating"`
	TotalReviews  int64        `json:"totalReviews"`
	RatingCounts  RatingCounts `json:"ratingCounts"`
}

type Page struct {
	Reviews    []models.Review   `json:"reviews"`
	Pagination models.Pagination `json:"pagination"`
	Stats      Stats             `json:"stats"`
}

// List returns a page of reviews plus stats computed over all reviews of
// the service; VerifiedOnly narrows the page, never the stats.
func (s *Service) List(ctx context.Context, serviceID uuid.UUID, opts ListOptions) (Page, error) {
	opts = opts.normalize()
	if _, err := s.loadService(ctx, serviceID); err != nil {
		return Page{}, err
	}

	db := s.db.WithContext(ctx)
	page := db.Model(&models.Review{}).Where("service_id = ?", serviceID)
	if opts.VerifiedOnly {
		page = page.Where("verified_purchase = ?", true)
	}

	var total int64
	if err := page.Count(&total).Error; err != nil {
		return Page{}, fmt.Errorf("count reviews: %w", err)
	}
	items := make([]models.Review, 0, opts.Limit)
	if err := page.Order(orderBy(opts.Sort)).Limit(opts.Limit).Offset(opts.Offset).Find(&items).Error; err != nil {
		return Page{}, fmt.Errorf("list reviews: %w", err)
	}

	stats, err := s.Stats(ctx, serviceID)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Reviews: items,
		Pagination: models.Pagination{
			Total:   total,
			Limit:   opts.Limit,
			Offset:  opts.Offset,
			HasMore: int64(opts.Offset+opts.Limit) < total,
		},
		Stats: stats,
	}, nil
}

// Stats computes the rating aggregate of a service.
func (s *Service) Stats(ctx context.Context, serviceID uuid.UUID) (Stats, error) {
	var rows []struct {
		Rating int
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Review{}).
		Select("rating, COUNT(*) AS count").
		Where("service_id = ?", serviceID).
		Group("rating").
		Scan(&rows).Error; err != nil {
		return Stats{}, fmt.Errorf("rating breakdown: %w", err)
	}

	var st Stats
	var sum int64
	for _, r := range rows {
		st.TotalReviews += r.Count
		sum += int64(r.Rating) * r.Count
		switch r.Rating {
		case 5:
			st.RatingCounts.FiveStar = r.Count
		case 4:
			st.RatingCounts.FourStar = r.Count
		case 3:
			st.RatingCounts.ThreeStar = r.Count
		case 2:
			st.RatingCounts.TwoStar = r.Count
		case 1:
			st.RatingCounts.OneStar = r.Count
		}
	}
	if st.TotalReviews > 0 {
		st.AverageRating = roundOne(float64(sum) / float64(st.TotalReviews))
	}
	return st, nil
}

func roundOne(v float64) float64 { return math.Round(v*10) / 10 }
