package models

import "time"

// Review status values
const (
	ReviewStatusPending = "pending"
	ReviewStatusReplied = "replied"
)

// Question status values
const (
	QuestionStatusUnanswered = "unanswered"
	QuestionStatusAnswered   = "answered"
)

// Review represents a customer review of a location.
// HasReply and Status are always derived from ReplyText.
type Review struct {
	ID                  string     `json:"id" db:"id"`
	ReviewID            string     `json:"reviewId" db:"review_id"`
	LocationID          string     `json:"locationId" db:"location_id"`
	GoogleLocationID    string     `json:"googleLocationId" db:"-"`
	AccountID           string     `json:"accountId" db:"account_id"`
	UserID              string     `json:"userId" db:"user_id"`
	ReviewerName        string     `json:"reviewerName" db:"reviewer_name"`
	ReviewerDisplayName *string    `json:"reviewerDisplayName,omitempty" db:"reviewer_display_name"`
	ReviewerPhoto       *string    `json:"reviewerPhoto,omitempty" db:"reviewer_photo"`
	Rating              int        `json:"rating" db:"rating"`
	ReviewText          string     `json:"reviewText" db:"review_text"`
	ReviewDate          *time.Time `json:"reviewDate,omitempty" db:"review_date"`
	ReplyText           *string    `json:"replyText,omitempty" db:"reply_text"`
	ReplyDate           *time.Time `json:"replyDate,omitempty" db:"reply_date"`
	HasReply            bool       `json:"hasReply" db:"has_reply"`
	Status              string     `json:"status" db:"status"`
	Sentiment           *string    `json:"sentiment,omitempty" db:"sentiment"`
	ReviewURL           *string    `json:"reviewUrl,omitempty" db:"review_url"`
}

// Question represents a Q&A entry on a location profile.
// Answer fields come from the first upstream answer only.
type Question struct {
	ID                string     `json:"id" db:"id"`
	QuestionID        string     `json:"questionId" db:"question_id"`
	LocationID        string     `json:"locationId" db:"location_id"`
	GoogleLocationID  string     `json:"googleLocationId" db:"-"`
	AccountID         string     `json:"accountId" db:"account_id"`
	UserID            string     `json:"userId" db:"user_id"`
	QuestionText      string     `json:"questionText" db:"question_text"`
	AuthorName        string     `json:"authorName" db:"author_name"`
	AuthorDisplayName *string    `json:"authorDisplayName,omitempty" db:"author_display_name"`
	Status            string     `json:"status" db:"status"`
	AnswerText        *string    `json:"answerText,omitempty" db:"answer_text"`
	AnswerAuthor      *string    `json:"answerAuthor,omitempty" db:"answer_author"`
	AnswerDate        *time.Time `json:"answerDate,omitempty" db:"answer_date"`
	UpvoteCount       int        `json:"upvoteCount" db:"upvote_count"`
	TotalAnswerCount  int        `json:"totalAnswerCount" db:"total_answer_count"`
	CreatedAt         *time.Time `json:"createdAt,omitempty" db:"question_created_at"`
}
