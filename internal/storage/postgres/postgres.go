package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"
	"github.com/openflix/catalog-service/internal/config"
	"github.com/openflix/catalog-service/internal/storage"
	"github.com/openflix/catalog-service/internal/types"
	"github.com/openflix/catalog-service/internal/types/media"
)

type Postgres struct {
	Db *sql.DB
}

func NewPostgres(cfg *config.Config) (*Postgres, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.PGSQL.Host, cfg.PGSQL.Port, cfg.PGSQL.User, cfg.PGSQL.Password, cfg.PGSQL.DBName, cfg.PGSQL.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal(err)
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		log.Fatal(err)
		return nil, err
	}

	log.Println("Connected to Postgres database")

	// Create tables if they don't exist
	pg := &Postgres{Db: db}
	err = pg.CreateTables()
	if err != nil {
		log.Fatal("Failed to create tables:", err)
	}

	return pg, nil
}

func (p *Postgres) CreateTables() error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS seasons (
			id SERIAL PRIMARY KEY,
			series_id INTEGER,
			title VARCHAR(255) NOT NULL,
			"order" INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		`,
		`
		CREATE TABLE IF NOT EXISTS media (
			id SERIAL PRIMARY KEY,
			kind VARCHAR(20) NOT NULL CHECK (kind IN ('video', 'image')),
			platform VARCHAR(20) NOT NULL CHECK (platform IN ('local', 'youtube', 'vimeo')),
			object_key VARCHAR(255),
			provider_id VARCHAR(255),
			size BIGINT NOT NULL DEFAULT 0,
			checksum VARCHAR(64),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		`,
		`
		CREATE TABLE IF NOT EXISTS episodes (
			id SERIAL PRIMARY KEY,
			season_id INTEGER NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
			title VARCHAR(255) NOT NULL,
			description VARCHAR(500),
			length INTEGER NOT NULL DEFAULT 0,
			public BOOLEAN NOT NULL DEFAULT FALSE,
			"order" INTEGER NOT NULL,
			thumbnail_id INTEGER REFERENCES media(id),
			video_id INTEGER REFERENCES media(id),
			trailer_id INTEGER REFERENCES media(id),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT episodes_season_order_key UNIQUE (season_id, "order") DEFERRABLE INITIALLY IMMEDIATE
		);
		`,
	}

	for _, q := range queries {
		if _, err := p.Db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

func (p *Postgres) CreateMediaRecord(objectKey string, kind media.Kind, size int64, checksum string) (string, error) {
	var mediaID int
	query := `
	INSERT INTO media (kind, platform, object_key, size, checksum)
	VALUES ($1, 'local', $2, $3, $4)
	RETURNING id
	`

	err := p.Db.QueryRow(query, kind, objectKey, size, checksum).Scan(&mediaID)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d", mediaID), nil
}

func (p *Postgres) CreateExternalMediaRecord(providerID string, platform media.Platform, kind media.Kind) (string, error) {
	var mediaID int
	query := `
	INSERT INTO media (kind, platform, provider_id)
	VALUES ($1, $2, $3)
	RETURNING id
	`

	err := p.Db.QueryRow(query, kind, platform, providerID).Scan(&mediaID)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d", mediaID), nil
}

func (p *Postgres) GetMediaRecord(id string) (media.Record, error) {
	var rec media.Record
	var objectKey, providerID, checksum sql.NullString

	query := `
	SELECT id, kind, platform, object_key, provider_id, size, checksum, created_at
	FROM media WHERE id = $1
	`

	err := p.Db.QueryRow(query, id).Scan(&rec.ID, &rec.Kind, &rec.Platform,
		&objectKey, &providerID, &rec.Size, &checksum, &rec.CreatedAt)
	if err != nil {
		return media.Record{}, err
	}

	rec.ObjectKey = objectKey.String
	rec.ProviderID = providerID.String
	rec.Checksum = checksum.String

	return rec, nil
}

// CreateEpisode inserts the episode at the end of the season's sequence.
// The order value is computed inside the insert itself; a concurrent append
// that lands on the same value trips the unique constraint and is retried.
func (p *Postgres) CreateEpisode(seasonID, title, description string, length int, public bool) (types.Episode, error) {
	query := `
	INSERT INTO episodes (season_id, title, description, length, public, "order")
	VALUES ($1, $2, $3, $4, $5,
		(SELECT COALESCE(MAX("order"), 0) + 1 FROM episodes WHERE season_id = $1))
	RETURNING id, "order", created_at
	`

	var ep types.Episode
	for attempt := 0; attempt < 3; attempt++ {
		var id int
		err := p.Db.QueryRow(query, seasonID, title, description, length, public).
			Scan(&id, &ep.Order, &ep.CreatedAt)
		if err == nil {
			ep.ID = fmt.Sprintf("%d", id)
			ep.SeasonID = seasonID
			ep.Title = title
			ep.Description = description
			ep.Length = length
			ep.Public = public
			return ep, nil
		}
		if !isUniqueViolation(err) {
			return types.Episode{}, err
		}
	}

	return types.Episode{}, fmt.Errorf("failed to append episode to season %s after retries", seasonID)
}

func (p *Postgres) GetEpisode(id string) (types.Episode, error) {
	query := `
	SELECT id, season_id, title, description, length, public, "order",
		COALESCE(thumbnail_id::TEXT, ''), COALESCE(video_id::TEXT, ''), COALESCE(trailer_id::TEXT, ''),
		created_at
	FROM episodes WHERE id = $1
	`

	return scanEpisode(p.Db.QueryRow(query, id))
}

// SetEpisodeMedia points a media slot at a new record and returns the id of
// the record it replaced, if any. The old record is orphaned, not deleted;
// the sweeper reaps it later.
func (p *Postgres) SetEpisodeMedia(episodeID string, slot types.MediaSlot, mediaID string) (string, error) {
	column, err := slotColumn(slot)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`
	UPDATE episodes e SET %s = $1
	FROM (SELECT id, %s AS old_media FROM episodes WHERE id = $2) prev
	WHERE e.id = prev.id
	RETURNING COALESCE(prev.old_media::TEXT, '')
	`, column, column)

	var previous string
	if err := p.Db.QueryRow(query, mediaID, episodeID).Scan(&previous); err != nil {
		return "", err
	}

	return previous, nil
}

func (p *Postgres) ListSeasonEpisodes(seasonID string) ([]types.EpisodeRef, error) {
	query := `
	SELECT id, title, "order" FROM episodes
	WHERE season_id = $1
	ORDER BY "order" ASC
	`

	rows, err := p.Db.Query(query, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []types.EpisodeRef
	for rows.Next() {
		var ref types.EpisodeRef
		var id int
		if err := rows.Scan(&id, &ref.Title, &ref.Order); err != nil {
			return nil, err
		}
		ref.ID = fmt.Sprintf("%d", id)
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

// BulkReorderEpisodes applies all new order values in one transaction. The
// request must cover the season's children exactly; the per-season uniqueness
// constraint is deferred to commit so swaps do not trip it mid-update.
func (p *Postgres) BulkReorderEpisodes(seasonID string, episodeIDs []string, orders []int) error {
	if len(episodeIDs) != len(orders) {
		return storage.ErrReorderMismatch
	}

	// A duplicated id would pass the count check below with one child
	// silently skipped, so it is rejected up front
	seen := make(map[string]struct{}, len(episodeIDs))
	for _, id := range episodeIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate episode id %s", storage.ErrReorderMismatch, id)
		}
		seen[id] = struct{}{}
	}

	tx, err := p.Db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var childCount int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM episodes WHERE season_id = $1`, seasonID).Scan(&childCount); err != nil {
		return err
	}
	if childCount != len(episodeIDs) {
		return fmt.Errorf("%w: season has %d episodes, request covers %d",
			storage.ErrReorderMismatch, childCount, len(episodeIDs))
	}

	if _, err := tx.Exec(`SET CONSTRAINTS episodes_season_order_key DEFERRED`); err != nil {
		return err
	}

	for i, id := range episodeIDs {
		res, err := tx.Exec(`UPDATE episodes SET "order" = $1 WHERE id = $2 AND season_id = $3`,
			orders[i], id, seasonID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: episode %s not found in season %s", storage.ErrReorderMismatch, id, seasonID)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate order values", storage.ErrReorderMismatch)
		}
		return err
	}

	return nil
}

// ReassignEpisodeSeason moves the episode to the end of the new season's
// sequence. Siblings left behind keep their orders, leaving a gap.
func (p *Postgres) ReassignEpisodeSeason(episodeID, newSeasonID string) (int, error) {
	query := `
	UPDATE episodes SET season_id = $1,
		"order" = (SELECT COALESCE(MAX("order"), 0) + 1 FROM episodes WHERE season_id = $1)
	WHERE id = $2
	RETURNING "order"
	`

	var order int
	for attempt := 0; attempt < 3; attempt++ {
		err := p.Db.QueryRow(query, newSeasonID, episodeID).Scan(&order)
		if err == nil {
			return order, nil
		}
		if !isUniqueViolation(err) {
			return 0, err
		}
	}

	return 0, fmt.Errorf("failed to reassign episode %s after retries", episodeID)
}

// GetSequenceContext reads the previous/current/next triple in one repeatable
// read transaction so a concurrent reorder can never show up between the
// three lookups.
func (p *Postgres) GetSequenceContext(episodeID string) (types.SequenceContext, error) {
	tx, err := p.Db.Begin()
	if err != nil {
		return types.SequenceContext{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`SET TRANSACTION ISOLATION LEVEL REPEATABLE READ`); err != nil {
		return types.SequenceContext{}, err
	}

	current, err := scanEpisode(tx.QueryRow(`
	SELECT id, season_id, title, description, length, public, "order",
		COALESCE(thumbnail_id::TEXT, ''), COALESCE(video_id::TEXT, ''), COALESCE(trailer_id::TEXT, ''),
		created_at
	FROM episodes WHERE id = $1
	`, episodeID))
	if err != nil {
		return types.SequenceContext{}, err
	}

	ctx := types.SequenceContext{Current: current}

	next, err := scanNeighbor(tx.QueryRow(`
	SELECT id, title, "order" FROM episodes
	WHERE season_id = $1 AND "order" > $2
	ORDER BY "order" ASC LIMIT 1
	`, current.SeasonID, current.Order))
	if err != nil {
		return types.SequenceContext{}, err
	}
	ctx.Next = next

	previous, err := scanNeighbor(tx.QueryRow(`
	SELECT id, title, "order" FROM episodes
	WHERE season_id = $1 AND "order" < $2
	ORDER BY "order" DESC LIMIT 1
	`, current.SeasonID, current.Order))
	if err != nil {
		return types.SequenceContext{}, err
	}
	ctx.Previous = previous

	if err := tx.Commit(); err != nil {
		return types.SequenceContext{}, err
	}

	return ctx, nil
}

// ListOrphanMediaRecords returns media rows no episode slot references. The
// hour of grace keeps records created between finalize and attach out of the
// sweep.
func (p *Postgres) ListOrphanMediaRecords(limit int) ([]media.Record, error) {
	query := `
	SELECT m.id, m.kind, m.platform, COALESCE(m.object_key, ''), COALESCE(m.provider_id, ''),
		m.size, COALESCE(m.checksum, ''), m.created_at
	FROM media m
	WHERE m.created_at < NOW() - INTERVAL '1 hour'
		AND NOT EXISTS (
			SELECT 1 FROM episodes e
			WHERE e.thumbnail_id = m.id OR e.video_id = m.id OR e.trailer_id = m.id
		)
	ORDER BY m.created_at ASC
	LIMIT $1
	`

	rows, err := p.Db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []media.Record
	for rows.Next() {
		var rec media.Record
		var id int
		if err := rows.Scan(&id, &rec.Kind, &rec.Platform, &rec.ObjectKey,
			&rec.ProviderID, &rec.Size, &rec.Checksum, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ID = fmt.Sprintf("%d", id)
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (p *Postgres) DeleteMediaRecord(id string) error {
	_, err := p.Db.Exec(`DELETE FROM media WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(row rowScanner) (types.Episode, error) {
	var ep types.Episode
	var id, seasonID int

	err := row.Scan(&id, &seasonID, &ep.Title, &ep.Description, &ep.Length,
		&ep.Public, &ep.Order, &ep.ThumbnailID, &ep.VideoID, &ep.TrailerID, &ep.CreatedAt)
	if err != nil {
		return types.Episode{}, err
	}

	ep.ID = fmt.Sprintf("%d", id)
	ep.SeasonID = fmt.Sprintf("%d", seasonID)

	return ep, nil
}

func scanNeighbor(row rowScanner) (*types.EpisodeRef, error) {
	var ref types.EpisodeRef
	var id int

	err := row.Scan(&id, &ref.Title, &ref.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ref.ID = fmt.Sprintf("%d", id)
	return &ref, nil
}

func slotColumn(slot types.MediaSlot) (string, error) {
	switch slot {
	case types.SlotThumbnail:
		return "thumbnail_id", nil
	case types.SlotVideo:
		return "video_id", nil
	case types.SlotTrailer:
		return "trailer_id", nil
	default:
		return "", fmt.Errorf("unknown media slot: %s", slot)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
