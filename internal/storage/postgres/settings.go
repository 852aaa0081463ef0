package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// EnabledSettings implements ingest.SettingsStore.
func (s *Store) EnabledSettings(ctx context.Context, ownerID string) ([]ingest.SourceSetting, error) {
	rows, err := s.pool.Query(ctx, `
SELECT owner_id, source, include_titles, exclude_titles
FROM source_settings WHERE owner_id = $1 AND is_enabled ORDER BY source`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query source settings: %w", err)
	}
	defer rows.Close()

	var settings []ingest.SourceSetting
	for rows.Next() {
		var (
			setting ingest.SourceSetting
			source  string
		)
		if err := rows.Scan(&setting.OwnerID, &source, &setting.Filter.Include, &setting.Filter.Exclude); err != nil {
			return nil, fmt.Errorf("scan source setting: %w", err)
		}
		setting.Source = ingest.Source(source)
		setting.Enabled = true
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query source settings: %w", err)
	}
	return settings, nil
}

// OwnersWithEnabledSources implements ingest.SettingsStore.
func (s *Store) OwnersWithEnabledSources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT owner_id FROM source_settings WHERE is_enabled ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	return owners, nil
}
