package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gmb-sync/internal/models"
)

// ReviewRepository upserts reviews keyed on their upstream ids
type ReviewRepository struct {
	db *PostgresDB
}

// NewReviewRepository creates a new review repository
func NewReviewRepository(db *PostgresDB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// UpsertReviews writes reviews and returns the number of rows written
func (r *ReviewRepository) UpsertReviews(ctx context.Context, reviews []*models.Review) (int, error) {
	return upsertReviews(ctx, r.db.Pool(), reviews)
}

func upsertReviews(ctx context.Context, q Querier, reviews []*models.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO reviews (
			review_id, location_id, account_id, user_id, reviewer_name, reviewer_display_name,
			reviewer_photo, rating, review_text, review_date, reply_text, reply_date,
			has_reply, status, sentiment, review_url, synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (review_id) DO UPDATE SET
			location_id = EXCLUDED.location_id,
			reviewer_name = EXCLUDED.reviewer_name,
			reviewer_display_name = EXCLUDED.reviewer_display_name,
			reviewer_photo = EXCLUDED.reviewer_photo,
			rating = EXCLUDED.rating,
			review_text = EXCLUDED.review_text,
			review_date = EXCLUDED.review_date,
			reply_text = EXCLUDED.reply_text,
			reply_date = EXCLUDED.reply_date,
			has_reply = EXCLUDED.has_reply,
			status = EXCLUDED.status,
			review_url = EXCLUDED.review_url,
			synced_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, rv := range reviews {
		if rv.LocationID == "" {
			return 0, fmt.Errorf("review %s has no internal location id", rv.ReviewID)
		}
		batch.Queue(query,
			rv.ReviewID, rv.LocationID, rv.AccountID, rv.UserID, rv.ReviewerName, rv.ReviewerDisplayName,
			rv.ReviewerPhoto, rv.Rating, rv.ReviewText, rv.ReviewDate, rv.ReplyText, rv.ReplyDate,
			rv.HasReply, rv.Status, rv.Sentiment, rv.ReviewURL,
		)
	}

	return execBatch(ctx, q, batch, "review")
}

func upsertQuestions(ctx context.Context, q Querier, questions []*models.Question) (int, error) {
	if len(questions) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO questions (
			question_id, location_id, account_id, user_id, question_text, author_name,
			author_display_name, status, answer_text, answer_author, answer_date,
			upvote_count, total_answer_count, question_created_at, synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (question_id) DO UPDATE SET
			location_id = EXCLUDED.location_id,
			question_text = EXCLUDED.question_text,
			author_name = EXCLUDED.author_name,
			author_display_name = EXCLUDED.author_display_name,
			status = EXCLUDED.status,
			answer_text = EXCLUDED.answer_text,
			answer_author = EXCLUDED.answer_author,
			answer_date = EXCLUDED.answer_date,
			upvote_count = EXCLUDED.upvote_count,
			total_answer_count = EXCLUDED.total_answer_count,
			synced_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, qu := range questions {
		if qu.LocationID == "" {
			return 0, fmt.Errorf("question %s has no internal location id", qu.QuestionID)
		}
		batch.Queue(query,
			qu.QuestionID, qu.LocationID, qu.AccountID, qu.UserID, qu.QuestionText, qu.AuthorName,
			qu.AuthorDisplayName, qu.Status, qu.AnswerText, qu.AnswerAuthor, qu.AnswerDate,
			qu.UpvoteCount, qu.TotalAnswerCount, qu.CreatedAt,
		)
	}

	return execBatch(ctx, q, batch, "question")
}

// execBatch runs every queued statement and sums affected rows
func execBatch(ctx context.Context, q Querier, batch *pgx.Batch, what string) (int, error) {
	br := q.SendBatch(ctx, batch)
	defer func() {
		_ = br.Close()
	}()

	written := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return written, fmt.Errorf("failed to upsert %s: %w", what, err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}
