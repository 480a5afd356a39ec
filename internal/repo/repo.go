package repo

import (
	"context"
	"database/sql"
	"errors"

	"changeboard/internal/domain"
)

// Repo reads and writes change records and their child lists. List
// order is insertion order (seq), which the dashboard preserves through
// filtering.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const recordCols = `id,type,package,title,estimated,actual,stage_key,
	COALESCE(sub_status,'') AS sub_status,
	COALESCE(stage_start_date,'') AS stage_start_date,
	COALESCE(overall_start_date,'') AS overall_start_date,
	COALESCE(outcome,'') AS outcome,
	COALESCE(target,'') AS target,
	COALESCE(sponsor,'') AS sponsor,
	cc_planned_for_next,cc_previous_meeting`

func scanRecord(sc interface{ Scan(...any) error }) (domain.ChangeRecord, error) {
	var r domain.ChangeRecord
	var est, act sql.NullInt64
	var planned int
	var prevMeeting sql.NullInt64
	err := sc.Scan(&r.ID, &r.Type, &r.Package, &r.Title, &est, &act, &r.StageKey,
		&r.SubStatus, &r.StageStartDate, &r.OverallStartDate, &r.Outcome,
		&r.Target, &r.Sponsor, &planned, &prevMeeting)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if est.Valid {
		v := est.Int64
		r.Estimated = &v
	}
	if act.Valid {
		v := act.Int64
		r.Actual = &v
	}
	r.CCPlannedForNext = planned != 0
	if prevMeeting.Valid {
		v := int(prevMeeting.Int64)
		r.CCPreviousMeeting = &v
	}
	return r, nil
}

func (r Repo) NextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM records`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64 + 1, nil
}

// RecordExists reads through the caller's transaction so that rows
// inserted earlier in the same batch are visible, and so the check
// never competes with the write lock the transaction already holds.
func (r Repo) RecordExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertRecord(ctx context.Context, tx *sql.Tx, rec domain.ChangeRecord, seq int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO records
		(id,seq,type,package,title,estimated,actual,stage_key,sub_status,stage_start_date,overall_start_date,outcome,target,sponsor,cc_planned_for_next,cc_previous_meeting)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, seq, rec.Type, rec.Package, rec.Title,
		nullInt(rec.Estimated), nullInt(rec.Actual), rec.StageKey,
		nullable(rec.SubStatus), nullable(rec.StageStartDate), nullable(rec.OverallStartDate),
		nullable(rec.Outcome), nullable(rec.Target), nullable(rec.Sponsor),
		boolInt(rec.CCPlannedForNext), nullIntPtr(rec.CCPreviousMeeting))
	if err != nil {
		return err
	}
	return r.replaceChildren(ctx, tx, rec)
}

func (r Repo) replaceChildren(ctx context.Context, tx *sql.Tx, rec domain.ChangeRecord) error {
	for _, table := range []string{"reviewers", "signatures", "links"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE record_id=?`, rec.ID); err != nil {
			return err
		}
	}
	for i, rv := range rec.Reviewers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO reviewers(record_id,position,role,name,review_date,decision) VALUES (?,?,?,?,?,?)`,
			rec.ID, i, rv.Role, rv.Name, nullable(rv.Date), nullable(rv.Decision)); err != nil {
			return err
		}
	}
	for i, sg := range rec.Signatures {
		if _, err := tx.ExecContext(ctx, `INSERT INTO signatures(record_id,position,role,name,sign_date,signed) VALUES (?,?,?,?,?,?)`,
			rec.ID, i, sg.Role, sg.Name, nullable(sg.Date), boolInt(sg.Signed)); err != nil {
			return err
		}
	}
	for i, ln := range rec.Links {
		if _, err := tx.ExecContext(ctx, `INSERT INTO links(record_id,position,label,url) VALUES (?,?,?,?)`,
			rec.ID, i, ln.Label, ln.URL); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetRecord(ctx context.Context, id string) (domain.ChangeRecord, error) {
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, `SELECT `+recordCols+` FROM records WHERE id=?`, id))
	if err != nil {
		return rec, err
	}
	return r.loadChildren(ctx, rec)
}

// ListRecords returns all records in insertion order, children included.
func (r Repo) ListRecords(ctx context.Context) ([]domain.ChangeRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+recordCols+` FROM records ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs := []domain.ChangeRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i], err = r.loadChildren(ctx, recs[i])
		if err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (r Repo) loadChildren(ctx context.Context, rec domain.ChangeRecord) (domain.ChangeRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role,COALESCE(name,''),COALESCE(review_date,''),COALESCE(decision,'') FROM reviewers WHERE record_id=? ORDER BY position`, rec.ID)
	if err != nil {
		return rec, err
	}
	defer rows.Close()
	for rows.Next() {
		var rv domain.Reviewer
		if err := rows.Scan(&rv.Role, &rv.Name, &rv.Date, &rv.Decision); err != nil {
			return rec, err
		}
		rec.Reviewers = append(rec.Reviewers, rv)
	}
	if err := rows.Err(); err != nil {
		return rec, err
	}

	sigs, err := r.DB.QueryContext(ctx, `SELECT role,COALESCE(name,''),COALESCE(sign_date,''),signed FROM signatures WHERE record_id=? ORDER BY position`, rec.ID)
	if err != nil {
		return rec, err
	}
	defer sigs.Close()
	for sigs.Next() {
		var sg domain.Signature
		var signed int
		if err := sigs.Scan(&sg.Role, &sg.Name, &sg.Date, &signed); err != nil {
			return rec, err
		}
		sg.Signed = signed != 0
		rec.Signatures = append(rec.Signatures, sg)
	}
	if err := sigs.Err(); err != nil {
		return rec, err
	}

	links, err := r.DB.QueryContext(ctx, `SELECT label,url FROM links WHERE record_id=? ORDER BY position`, rec.ID)
	if err != nil {
		return rec, err
	}
	defer links.Close()
	for links.Next() {
		var ln domain.DocumentLink
		if err := links.Scan(&ln.Label, &ln.URL); err != nil {
			return rec, err
		}
		rec.Links = append(rec.Links, ln)
	}
	return rec, links.Err()
}

func (r Repo) UpdateStage(ctx context.Context, tx *sql.Tx, id, stageKey, subStatus, stageStartDate string) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET stage_key=?, sub_status=?, stage_start_date=? WHERE id=?`,
		stageKey, nullable(subStatus), nullable(stageStartDate), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) UpdateSubStatus(ctx context.Context, tx *sql.Tx, id, subStatus string) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET sub_status=? WHERE id=?`, nullable(subStatus), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) UpdateOutcome(ctx context.Context, tx *sql.Tx, id, outcome string, actual *int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET outcome=?, actual=COALESCE(?, actual) WHERE id=?`,
		nullable(outcome), nullInt(actual), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) UpdateAgenda(ctx context.Context, tx *sql.Tx, id string, planned bool, prevMeeting *int) error {
	res, err := tx.ExecContext(ctx, `UPDATE records SET cc_planned_for_next=?, cc_previous_meeting=? WHERE id=?`,
		boolInt(planned), nullIntPtr(prevMeeting), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) CountByStage(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage_key, COUNT(*) FROM records GROUP BY stage_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// LatestEvents returns up to n newest events, optionally filtered by
// type and record.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, recordID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	q := `SELECT id,ts,type,COALESCE(record_id,''),actor_id,payload_json FROM events`
	var conds []string
	var args []any
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if recordID != "" {
		conds = append(conds, "record_id=?")
		args = append(args, recordID)
	}
	for i, c := range conds {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RecordID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- helpers ---

func requireAffected(res sql.Result) error {
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
