package adapter

import (
	mybusiness "google.golang.org/api/mybusinessbusinessinformation/v1"
)

// RawLocation is the Business Information API location resource
type RawLocation = mybusiness.Location

// RawReview is a review from the v4 reviews API
type RawReview struct {
	Name       string           `json:"name"`
	ReviewID   string           `json:"reviewId"`
	Reviewer   *RawReviewer     `json:"reviewer,omitempty"`
	StarRating interface{}      `json:"starRating,omitempty"`
	Comment    string           `json:"comment,omitempty"`
	CreateTime string           `json:"createTime,omitempty"`
	UpdateTime string           `json:"updateTime,omitempty"`
	Reply      *RawReviewReply  `json:"reviewReply,omitempty"`
}

// RawReviewer identifies the author of a review
type RawReviewer struct {
	DisplayName     string `json:"displayName,omitempty"`
	ProfilePhotoURL string `json:"profilePhotoUrl,omitempty"`
	IsAnonymous     bool   `json:"isAnonymous,omitempty"`
}

// RawReviewReply is the owner's reply to a review
type RawReviewReply struct {
	Comment    string `json:"comment,omitempty"`
	UpdateTime string `json:"updateTime,omitempty"`
}

type listReviewsResponse struct {
	Reviews          []RawReview `json:"reviews"`
	AverageRating    float64     `json:"averageRating"`
	TotalReviewCount int         `json:"totalReviewCount"`
	NextPageToken    string      `json:"nextPageToken"`
}

// RawQuestion is a question from the Q&A API
type RawQuestion struct {
	Name             string      `json:"name"`
	Author           *RawAuthor  `json:"author,omitempty"`
	UpvoteCount      int         `json:"upvoteCount,omitempty"`
	Text             string      `json:"text,omitempty"`
	CreateTime       string      `json:"createTime,omitempty"`
	UpdateTime       string      `json:"updateTime,omitempty"`
	TopAnswers       []RawAnswer `json:"topAnswers,omitempty"`
	TotalAnswerCount int         `json:"totalAnswerCount,omitempty"`
}

// RawAuthor identifies the author of a question or answer
type RawAuthor struct {
	DisplayName     string `json:"displayName,omitempty"`
	ProfilePhotoURI string `json:"profilePhotoUri,omitempty"`
	Type            string `json:"type,omitempty"`
}

// RawAnswer is one answer of a question
type RawAnswer struct {
	Name        string     `json:"name"`
	Author      *RawAuthor `json:"author,omitempty"`
	UpvoteCount int        `json:"upvoteCount,omitempty"`
	Text        string     `json:"text,omitempty"`
	CreateTime  string     `json:"createTime,omitempty"`
	UpdateTime  string     `json:"updateTime,omitempty"`
}

type listQuestionsResponse struct {
	Questions     []RawQuestion `json:"questions"`
	NextPageToken string        `json:"nextPageToken"`
	TotalSize     int           `json:"totalSize"`
}

// RawMetricSeries is one daily metric time series from the Performance API
type RawMetricSeries struct {
	DailyMetric string          `json:"dailyMetric"`
	TimeSeries  RawTimeSeries   `json:"timeSeries"`
}

// RawTimeSeries holds the dated values of a series
type RawTimeSeries struct {
	DatedValues []RawDatedValue `json:"datedValues"`
}

// RawDatedValue is one day of a metric. Value is an int64 encoded as a string and may be absent.
type RawDatedValue struct {
	Date  RawDate `json:"date"`
	Value string  `json:"value,omitempty"`
}

// RawDate is a calendar date without a time zone
type RawDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

type multiDailyMetricsResponse struct {
	MultiDailyMetricTimeSeries []struct {
		DailyMetricTimeSeries []RawMetricSeries `json:"dailyMetricTimeSeries"`
	} `json:"multiDailyMetricTimeSeries"`
}

// RawPost is a local post from the v4 API
type RawPost struct {
	Name         string            `json:"name"`
	Summary      string            `json:"summary,omitempty"`
	TopicType    string            `json:"topicType,omitempty"`
	State        string            `json:"state,omitempty"`
	SearchURL    string            `json:"searchUrl,omitempty"`
	CreateTime   string            `json:"createTime,omitempty"`
	UpdateTime   string            `json:"updateTime,omitempty"`
	CallToAction *RawCallToAction  `json:"callToAction,omitempty"`
	Media        []RawMediaItem    `json:"media,omitempty"`
}

// RawCallToAction is the button attached to a post
type RawCallToAction struct {
	ActionType string `json:"actionType,omitempty"`
	URL        string `json:"url,omitempty"`
}

type listPostsResponse struct {
	LocalPosts    []RawPost `json:"localPosts"`
	NextPageToken string    `json:"nextPageToken"`
}

// RawMediaItem is a photo or video from the v4 media API
type RawMediaItem struct {
	Name                string               `json:"name"`
	MediaFormat         string               `json:"mediaFormat,omitempty"`
	GoogleURL           string               `json:"googleUrl,omitempty"`
	ThumbnailURL        string               `json:"thumbnailUrl,omitempty"`
	Description         string               `json:"description,omitempty"`
	CreateTime          string               `json:"createTime,omitempty"`
	LocationAssociation *RawMediaAssociation `json:"locationAssociation,omitempty"`
	Insights            *RawMediaInsights    `json:"insights,omitempty"`
}

// RawMediaAssociation describes how a media item relates to the location
type RawMediaAssociation struct {
	Category string `json:"category,omitempty"`
}

// RawMediaInsights carries the view count, an int64 encoded as a string
type RawMediaInsights struct {
	ViewCount string `json:"viewCount,omitempty"`
}

type listMediaResponse struct {
	MediaItems          []RawMediaItem `json:"mediaItems"`
	TotalMediaItemCount int            `json:"totalMediaItemCount"`
	NextPageToken       string         `json:"nextPageToken"`
}
