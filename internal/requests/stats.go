package requests

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/aldoetobex/weka-backend/pkg/models"
)

// defaultResponseMinutes is reported before any request has been matched.
const defaultResponseMinutes = 12

// LiveStats is the marketing counter block shown on the landing page.
type LiveStats struct {
	RequestsToday      int64 `json:"requestsToday"`
	ActiveProviders    int64 `json:"activeProviders"`
	TotalUsers         int64 `json:"totalUsers"`
	AvgResponseMinutes int   `json:"avgResponseMinutes"`
}

// Live computes the counters over the last 24 hours.
func (s *Service) Live(ctx context.Context) (LiveStats, error) {
	var out LiveStats
	db := s.db.WithContext(ctx)
	since := s.now().Add(-24 * time.Hour)

	if err := db.Model(&models.ServiceRequest{}).Where("created_at >= ?", since).Count(&out.RequestsToday).Error; err != nil {
		return out, fmt.Errorf("count requests: %w", err)
	}
	if err := db.Model(&models.Service{}).Where("status = ?", models.ServiceActive).
		Distinct("owner_id").Count(&out.ActiveProviders).Error; err != nil {
		return out, fmt.Errorf("count providers: %w", err)
	}
	if err := db.Model(&models.User{}).Count(&out.TotalUsers).Error; err != nil {
		return out, fmt.Errorf("count users: %w", err)
	}

	var avg sql.NullFloat64
	if err := db.Model(&models.ServiceRequest{}).
		Where("response_time IS NOT NULL").
		Select("AVG(response_time)").Row().Scan(&avg); err != nil {
		return out, fmt.Errorf("average response: %w", err)
	}
	out.AvgResponseMinutes = defaultResponseMinutes
	if avg.Valid {
		out.AvgResponseMinutes = int(math.Round(avg.Float64))
	}
	return out, nil
}
