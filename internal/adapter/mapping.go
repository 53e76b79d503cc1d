package adapter

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gmb-sync/internal/models"
)

// Scope carries the identifiers a mapped record is attributed to
type Scope struct {
	AccountID        string
	UserID           string
	LocationID       string // internal id; empty until the location row exists
	GoogleLocationID string
}

const anonymous = "Anonymous"

// Upstream open status values
const (
	OpenStatusOpen              = "OPEN"
	OpenStatusClosedPermanently = "CLOSED_PERMANENTLY"
	OpenStatusClosedTemporarily = "CLOSED_TEMPORARILY"
)

var starRatings = map[string]int{
	"STAR_RATING_UNSPECIFIED": 0,
	"STAR_ZERO":               0,
	"ZERO":                    0,
	"ONE":                     1,
	"TWO":                     2,
	"THREE":                   3,
	"FOUR":                    4,
	"FIVE":                    5,
	"STAR_ONE":                1,
	"STAR_TWO":                2,
	"STAR_THREE":              3,
	"STAR_FOUR":               4,
	"STAR_FIVE":               5,
}

// NormalizeRating converts any upstream rating representation to an integer in [0, 5]
func NormalizeRating(v interface{}) int {
	switch r := v.(type) {
	case nil:
		return 0
	case int:
		return clampRating(float64(r))
	case int32:
		return clampRating(float64(r))
	case int64:
		return clampRating(float64(r))
	case uint:
		return clampRating(float64(r))
	case uint32:
		return clampRating(float64(r))
	case uint64:
		return clampRating(float64(r))
	case float32:
		return clampRating(float64(r))
	case float64:
		return clampRating(r)
	case json.Number:
		f, err := r.Float64()
		if err != nil {
			return 0
		}
		return clampRating(f)
	case string:
		s := strings.TrimSpace(r)
		if s == "" {
			return 0
		}
		if s[0] >= '0' && s[0] <= '9' {
			return clampRating(float64(s[0] - '0'))
		}
		return starRatings[strings.ToUpper(s)]
	default:
		return 0
	}
}

func clampRating(f float64) int {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= 5 {
		return 5
	}
	return int(math.Floor(f))
}

// MapReview maps an upstream review. Reply state follows the reply text alone.
func MapReview(raw RawReview, scope Scope) *models.Review {
	r := &models.Review{
		ReviewID:         raw.ReviewID,
		LocationID:       scope.LocationID,
		GoogleLocationID: scope.GoogleLocationID,
		AccountID:        scope.AccountID,
		UserID:           scope.UserID,
		ReviewerName:     anonymous,
		Rating:           NormalizeRating(raw.StarRating),
		ReviewText:       raw.Comment,
		ReviewDate:       parseTime(raw.CreateTime),
		Status:           models.ReviewStatusPending,
	}
	if r.ReviewID == "" {
		r.ReviewID = lastSegment(raw.Name)
	}
	r.ReviewURL = reviewURL(raw.Name)

	if raw.Reviewer != nil {
		if name := strings.TrimSpace(raw.Reviewer.DisplayName); name != "" && !raw.Reviewer.IsAnonymous {
			r.ReviewerName = name
			r.ReviewerDisplayName = &name
		}
		r.ReviewerPhoto = optional(raw.Reviewer.ProfilePhotoURL)
	}

	if raw.Reply != nil {
		if text := strings.TrimSpace(raw.Reply.Comment); text != "" {
			r.ReplyText = &text
			r.ReplyDate = parseTime(raw.Reply.UpdateTime)
		}
	}
	r.HasReply = r.ReplyText != nil
	if r.HasReply {
		r.Status = models.ReviewStatusReplied
	}
	return r
}

// reviewURL is the canonical v4 resource URL for a review name such as
// "accounts/1/locations/2/reviews/3". Names not in that shape have no URL.
func reviewURL(name string) *string {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if !strings.HasPrefix(name, "accounts/") || !strings.Contains(name, "/reviews/") {
		return nil
	}
	u := DefaultV4Endpoint + name
	return &u
}

// MapQuestion maps an upstream question. Only the first top answer is kept.
func MapQuestion(raw RawQuestion, scope Scope) *models.Question {
	q := &models.Question{
		QuestionID:       lastSegment(raw.Name),
		LocationID:       scope.LocationID,
		GoogleLocationID: scope.GoogleLocationID,
		AccountID:        scope.AccountID,
		UserID:           scope.UserID,
		QuestionText:     raw.Text,
		AuthorName:       anonymous,
		Status:           models.QuestionStatusUnanswered,
		UpvoteCount:      raw.UpvoteCount,
		TotalAnswerCount: raw.TotalAnswerCount,
		CreatedAt:        parseTime(raw.CreateTime),
	}

	if raw.Author != nil {
		if name := strings.TrimSpace(raw.Author.DisplayName); name != "" {
			q.AuthorName = name
			q.AuthorDisplayName = &name
		}
	}

	if len(raw.TopAnswers) > 0 {
		answer := raw.TopAnswers[0]
		q.Status = models.QuestionStatusAnswered
		text := answer.Text
		q.AnswerText = &text
		if answer.Author != nil {
			q.AnswerAuthor = optional(strings.TrimSpace(answer.Author.DisplayName))
		}
		q.AnswerDate = parseTime(answer.UpdateTime)
		if q.TotalAnswerCount == 0 {
			q.TotalAnswerCount = len(raw.TopAnswers)
		}
	}
	return q
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeLocationID lowercases an upstream id and collapses every other character run to "_"
func NormalizeLocationID(id string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(id), "_")
}

// MapLocation maps an upstream location. Metadata carries the open status only when upstream sent one.
func MapLocation(raw *RawLocation, scope Scope) *models.Location {
	id := strings.TrimPrefix(raw.Name, "locations/")
	loc := &models.Location{
		AccountID:    scope.AccountID,
		UserID:       scope.UserID,
		LocationID:   id,
		NormalizedID: NormalizeLocationID(id),
		Name:         raw.Title,
		IsActive:     true,
		Metadata:     map[string]interface{}{},
	}

	if a := raw.StorefrontAddress; a != nil {
		parts := append([]string{}, a.AddressLines...)
		parts = append(parts, a.Locality, a.AdministrativeArea, a.PostalCode)
		loc.Address = joinNonEmpty(parts, ", ")
	}
	if raw.PhoneNumbers != nil {
		loc.Phone = optional(raw.PhoneNumbers.PrimaryPhone)
	}
	loc.Website = optional(raw.WebsiteUri)
	if raw.Categories != nil && raw.Categories.PrimaryCategory != nil {
		loc.Category = optional(raw.Categories.PrimaryCategory.DisplayName)
	}
	if raw.Latlng != nil {
		lat, lng := raw.Latlng.Latitude, raw.Latlng.Longitude
		loc.Latitude, loc.Longitude = &lat, &lng
	}

	if raw.OpenInfo != nil && raw.OpenInfo.Status != "" {
		status := strings.ToUpper(raw.OpenInfo.Status)
		loc.Metadata["openStatus"] = status
		loc.IsArchived = status == OpenStatusClosedPermanently
		loc.IsActive = !loc.IsArchived
	}
	if m := raw.Metadata; m != nil {
		if m.PlaceId != "" {
			loc.Metadata["placeId"] = m.PlaceId
		}
		if m.MapsUri != "" {
			loc.Metadata["mapsUri"] = m.MapsUri
		}
		if m.NewReviewUri != "" {
			loc.Metadata["newReviewUri"] = m.NewReviewUri
		}
	}

	loc.ProfileCompleteness = ProfileCompleteness(raw)
	return loc
}

// ProfileCompleteness scores the populated profile fields from 0 to 100
func ProfileCompleteness(raw *RawLocation) int {
	checks := []bool{
		strings.TrimSpace(raw.Title) != "",
		raw.StorefrontAddress != nil && len(raw.StorefrontAddress.AddressLines) > 0,
		raw.PhoneNumbers != nil && raw.PhoneNumbers.PrimaryPhone != "",
		raw.WebsiteUri != "",
		raw.Categories != nil && raw.Categories.PrimaryCategory != nil,
		raw.Latlng != nil,
		raw.Profile != nil && strings.TrimSpace(raw.Profile.Description) != "",
		raw.RegularHours != nil && len(raw.RegularHours.Periods) > 0,
	}

	filled := 0
	for _, ok := range checks {
		if ok {
			filled++
		}
	}
	return int(math.Round(float64(filled) * 100 / float64(len(checks))))
}

// SummarizeReviews returns the average normalized rating and the number of reviews
func SummarizeReviews(reviews []*models.Review) (float64, int) {
	if len(reviews) == 0 {
		return 0, 0
	}
	total := 0
	for _, r := range reviews {
		total += r.Rating
	}
	avg := float64(total) / float64(len(reviews))
	return math.Round(avg*100) / 100, len(reviews)
}

// MapInsights pivots metric series into one record per day, ordered by date.
// Days without a value for a metric omit that metric.
func MapInsights(series []RawMetricSeries, scope Scope) []*models.InsightDay {
	byDate := make(map[time.Time]*models.InsightDay)
	for _, s := range series {
		metric := strings.ToLower(s.DailyMetric)
		for _, dv := range s.TimeSeries.DatedValues {
			if dv.Date.Year == 0 || dv.Date.Month == 0 || dv.Date.Day == 0 {
				continue
			}
			date := time.Date(dv.Date.Year, time.Month(dv.Date.Month), dv.Date.Day, 0, 0, 0, 0, time.UTC)
			day, ok := byDate[date]
			if !ok {
				day = &models.InsightDay{
					LocationID:       scope.LocationID,
					GoogleLocationID: scope.GoogleLocationID,
					AccountID:        scope.AccountID,
					UserID:           scope.UserID,
					MetricDate:       date,
					Metrics:          map[string]int64{},
				}
				byDate[date] = day
			}
			if dv.Value == "" {
				continue
			}
			if n, err := strconv.ParseInt(dv.Value, 10, 64); err == nil {
				day.Metrics[metric] = n
			}
		}
	}

	days := make([]*models.InsightDay, 0, len(byDate))
	for _, d := range byDate {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].MetricDate.Before(days[j].MetricDate) })
	return days
}

// MapPost maps an upstream local post
func MapPost(raw RawPost, scope Scope) *models.Post {
	p := &models.Post{
		PostID:      lastSegment(raw.Name),
		LocationID:  scope.LocationID,
		AccountID:   scope.AccountID,
		UserID:      scope.UserID,
		Summary:     raw.Summary,
		TopicType:   raw.TopicType,
		State:       raw.State,
		SearchURL:   optional(raw.SearchURL),
		PublishedAt: parseTime(raw.CreateTime),
		UpdatedAt:   parseTime(raw.UpdateTime),
	}
	if raw.CallToAction != nil {
		p.CallToAction = optional(raw.CallToAction.ActionType)
	}
	for _, m := range raw.Media {
		if m.GoogleURL != "" {
			p.MediaURL = optional(m.GoogleURL)
			break
		}
	}
	return p
}

// MapMedia maps an upstream media item
func MapMedia(raw RawMediaItem, scope Scope) *models.Media {
	m := &models.Media{
		MediaID:      lastSegment(raw.Name),
		LocationID:   scope.LocationID,
		AccountID:    scope.AccountID,
		UserID:       scope.UserID,
		MediaFormat:  raw.MediaFormat,
		GoogleURL:    optional(raw.GoogleURL),
		ThumbnailURL: optional(raw.ThumbnailURL),
		Description:  optional(raw.Description),
		CreatedAt:    parseTime(raw.CreateTime),
	}
	if raw.LocationAssociation != nil {
		m.Category = optional(raw.LocationAssociation.Category)
	}
	if raw.Insights != nil {
		if n, err := strconv.ParseInt(raw.Insights.ViewCount, 10, 64); err == nil {
			m.ViewCount = n
		}
	}
	return m
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func joinNonEmpty(parts []string, sep string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
