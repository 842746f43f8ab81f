package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"rtls-stream/internal/models"
)

type ZoneRepository struct {
	db *gorm.DB
}

func NewZoneRepository(db *gorm.DB) *ZoneRepository {
	return &ZoneRepository{db: db}
}

func (r *ZoneRepository) FindByZoneID(ctx context.Context, zoneID int) (*models.Zone, error) {
	var zone models.Zone
	err := r.db.WithContext(ctx).Where("zone_id = ?", zoneID).First(&zone).Error
	if err != nil {
		return nil, err
	}
	return &zone, nil
}

// GetZoneTree loads the whole zone table and assembles the descendant tree
// of the requested root. Zone counts are small enough that one query beats
// a recursive CTE here.
func (r *ZoneRepository) GetZoneTree(ctx context.Context, rootZoneID int) (*models.ZoneNode, error) {
	var zones []models.Zone
	if err := r.db.WithContext(ctx).Find(&zones).Error; err != nil {
		return nil, fmt.Errorf("failed to load zones: %w", err)
	}

	children := make(map[int][]int)
	known := make(map[int]bool, len(zones))
	for _, zone := range zones {
		known[zone.ZoneID] = true
		if zone.ParentID != nil {
			children[*zone.ParentID] = append(children[*zone.ParentID], zone.ZoneID)
		}
	}

	if !known[rootZoneID] {
		return nil, fmt.Errorf("zone %d not found", rootZoneID)
	}

	visited := make(map[int]bool)
	return buildZoneNode(rootZoneID, children, visited), nil
}

func buildZoneNode(zoneID int, children map[int][]int, visited map[int]bool) *models.ZoneNode {
	visited[zoneID] = true
	node := &models.ZoneNode{ZoneID: zoneID}
	for _, childID := range children[zoneID] {
		if visited[childID] {
			// Malformed hierarchy with a cycle; skip rather than recurse forever.
			continue
		}
		node.Children = append(node.Children, buildZoneNode(childID, children, visited))
	}
	return node
}
