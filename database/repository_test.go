package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*RunRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := FromConn(conn)
	require.NoError(t, err)
	return NewRunRepository(db), mock
}

func TestSaveRun(t *testing.T) {
	repo, mock := newMockRepo(t)
	started := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO "training_runs" .* ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveRun(context.Background(), &TrainingRun{
		ID:          "4f7c1c1e-3d0a-4e0e-9a57-5b1c2d3e4f50",
		StartedAt:   started,
		FinishedAt:  started.Add(3 * time.Second),
		Outcome:     OutcomeSuccess,
		DataSource:  "remote",
		FeatureRows: 120,
		Generation:  "20240603T080003.000000000Z-abcd1234",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunValidation(t *testing.T) {
	repo, mock := newMockRepo(t)

	err := repo.SaveRun(context.Background(), &TrainingRun{ID: "x", Outcome: "MAYBE"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "outcome", verr.Field)
	assert.Equal(t, "MAYBE", verr.Value)
	assert.ErrorIs(t, err, ErrInvalidRun)

	err = repo.SaveRun(context.Background(), &TrainingRun{Outcome: OutcomeFailed})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunWrapsDriverErrors(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")

	mock.ExpectExec(`INSERT INTO "training_runs"`).WillReturnError(boom)

	err := repo.SaveRun(context.Background(), &TrainingRun{ID: "x", Outcome: OutcomeFailed, FailedStage: "acquisition"})
	var dberr *DBError
	require.ErrorAs(t, err, &dberr)
	assert.Equal(t, "SaveRun", dberr.Operation)
	assert.Equal(t, "training_runs", dberr.Table)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRunNotFound)
}

func TestRecentRuns(t *testing.T) {
	repo, mock := newMockRepo(t)
	started := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "started_at", "finished_at", "outcome", "failed_stage", "feature_rows"}).
		AddRow("b", started, started.Add(time.Second), OutcomeFailed, "acquisition", 0).
		AddRow("a", started.AddDate(0, 0, -7), started.AddDate(0, 0, -7).Add(time.Second), OutcomeSuccess, "", 80)
	mock.ExpectQuery(`SELECT \* FROM "training_runs" ORDER BY started_at DESC LIMIT`).WillReturnRows(rows)

	runs, err := repo.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, "acquisition", runs[0].FailedStage)
	assert.Equal(t, 80, runs[1].FeatureRows)
	assert.Equal(t, time.Second, runs[1].Duration())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSuccessfulRunNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT \* FROM "training_runs" WHERE outcome = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.LastSuccessfulRun(context.Background())
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Empty(t, nf.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.Equal(t, "no SUCCESS training run recorded", err.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSuccessfulRun(t *testing.T) {
	repo, mock := newMockRepo(t)
	started := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM "training_runs" WHERE outcome = \$1 ORDER BY started_at DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at", "outcome", "generation"}).
			AddRow("a", started, OutcomeSuccess, "g1"))

	run, err := repo.LastSuccessfulRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", run.ID)
	assert.Equal(t, "g1", run.Generation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunTwiceUpdates(t *testing.T) {
	repo, mock := newMockRepo(t)
	run := &TrainingRun{ID: "x", Outcome: OutcomeFailed, FailedStage: "training"}

	mock.ExpectExec(`INSERT INTO "training_runs" .* ON CONFLICT \("id"\) DO UPDATE SET .*"outcome"="excluded"."outcome"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "training_runs" .* ON CONFLICT \("id"\) DO UPDATE SET .*"outcome"="excluded"."outcome"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveRun(context.Background(), run))
	run.Outcome = OutcomeSuccess
	run.FailedStage = ""
	require.NoError(t, repo.SaveRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	started := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		rows     *sqlmock.Rows
		queryErr error
		check    func(t *testing.T, run *TrainingRun, err error)
	}{
		{
			name: "found",
			rows: sqlmock.NewRows([]string{"id", "started_at", "outcome", "failed_stage"}).
				AddRow("abc", started, OutcomeFailed, "acquisition"),
			check: func(t *testing.T, run *TrainingRun, err error) {
				require.NoError(t, err)
				assert.Equal(t, "abc", run.ID)
				assert.Equal(t, "acquisition", run.FailedStage)
			},
		},
		{
			name: "missing",
			rows: sqlmock.NewRows([]string{"id"}),
			check: func(t *testing.T, run *TrainingRun, err error) {
				assert.Nil(t, run)
				var nf *NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, "abc", nf.RunID)
				assert.ErrorIs(t, err, ErrRunNotFound)
			},
		},
		{
			name:     "driver failure",
			queryErr: errors.New("connection reset"),
			check: func(t *testing.T, run *TrainingRun, err error) {
				assert.Nil(t, run)
				var dberr *DBError
				require.ErrorAs(t, err, &dberr)
				assert.Equal(t, "GetRun", dberr.Operation)
				assert.NotErrorIs(t, err, ErrRunNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			q := mock.ExpectQuery(`SELECT \* FROM "training_runs" WHERE id = \$1`)
			if tt.queryErr != nil {
				q.WillReturnError(tt.queryErr)
			} else {
				q.WillReturnRows(tt.rows)
			}

			run, err := repo.GetRun(context.Background(), "abc")
			tt.check(t, run, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSaveWebhookLog(t *testing.T) {
	repo, mock := newMockRepo(t)
	status := 200

	mock.ExpectQuery(`INSERT INTO "publish_webhook_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	log := &PublishWebhookLog{
		WebhookURL:     "http://hooks.local/publish",
		Generation:     "g1",
		TriggeredAt:    time.Now(),
		Status:         "SUCCESS",
		HTTPStatusCode: &status,
	}
	require.NoError(t, repo.SaveWebhookLog(context.Background(), log))
	assert.Equal(t, int64(7), log.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWebhookLogWrapsDriverErrors(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`INSERT INTO "publish_webhook_logs"`).WillReturnError(errors.New("disk full"))

	err := repo.SaveWebhookLog(context.Background(), &PublishWebhookLog{WebhookURL: "http://hooks.local", TriggeredAt: time.Now()})
	var dberr *DBError
	require.ErrorAs(t, err, &dberr)
	assert.Equal(t, "publish_webhook_logs", dberr.Table)
	assert.Equal(t, "SaveWebhookLog on publish_webhook_logs: disk full", err.Error())
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "agri", Password: "secret", DBName: "forecast"}
	assert.Equal(t, "host=db port=5432 user=agri password=secret dbname=forecast sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}
