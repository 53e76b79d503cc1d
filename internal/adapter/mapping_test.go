package adapter

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mybusiness "google.golang.org/api/mybusinessbusinessinformation/v1"

	"github.com/gmb-sync/internal/models"
)

var testScope = Scope{AccountID: "acc-1", UserID: "user-1", LocationID: "loc-internal", GoogleLocationID: "123"}

func TestNormalizeRating(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want int
	}{
		{"nil", nil, 0},
		{"int", 4, 4},
		{"int above range", 9, 5},
		{"negative", -3, 0},
		{"float floors", 4.9, 4},
		{"float above range", 7.2, 5},
		{"NaN", math.NaN(), 0},
		{"json number", json.Number("3.7"), 3},
		{"bad json number", json.Number("x"), 0},
		{"digit string", "4 stars", 4},
		{"digit string clamps", "9", 5},
		{"enum", "FOUR", 4},
		{"enum lowercase", "three", 3},
		{"star enum", "STAR_FIVE", 5},
		{"star zero", "STAR_ZERO", 0},
		{"unspecified", "STAR_RATING_UNSPECIFIED", 0},
		{"unknown string", "excellent", 0},
		{"empty string", "  ", 0},
		{"bool", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRating(tt.in))
		})
	}
}

func TestNormalizeRating_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("float ratings land in [0,5] and floor", prop.ForAll(
		func(f float64) bool {
			got := NormalizeRating(f)
			if got < 0 || got > 5 {
				return false
			}
			if f >= 0 && f < 5 {
				return got == int(math.Floor(f))
			}
			return true
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("any string lands in [0,5]", prop.ForAll(
		func(s string) bool {
			got := NormalizeRating(s)
			return got >= 0 && got <= 5
		},
		gen.AnyString(),
	))

	properties.Property("numeric and enum spellings agree", prop.ForAll(
		func(n int) bool {
			names := []string{"ZERO", "ONE", "TWO", "THREE", "FOUR", "FIVE"}
			return NormalizeRating(n) == NormalizeRating(names[n]) &&
				NormalizeRating(n) == NormalizeRating("star_"+names[n])
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestMapReview_ReplyDerivation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("hasReply and status follow the reply text", prop.ForAll(
		func(reply string, withReply bool) bool {
			raw := RawReview{ReviewID: "r1", StarRating: "FIVE"}
			if withReply {
				raw.Reply = &RawReviewReply{Comment: reply, UpdateTime: "2024-03-01T10:00:00Z"}
			}
			r := MapReview(raw, testScope)

			if r.HasReply != (r.ReplyText != nil) {
				return false
			}
			if r.HasReply {
				return r.Status == models.ReviewStatusReplied && *r.ReplyText != ""
			}
			return r.Status == models.ReviewStatusPending && r.ReplyDate == nil
		},
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestMapReview(t *testing.T) {
	raw := RawReview{
		Name:       "accounts/1/locations/123/reviews/abc",
		Reviewer:   &RawReviewer{DisplayName: "Jane", ProfilePhotoURL: "https://photo"},
		StarRating: "FOUR",
		Comment:    "Great coffee",
		CreateTime: "2024-02-01T09:30:00Z",
		Reply:      &RawReviewReply{Comment: "Thanks!", UpdateTime: "2024-02-02T09:30:00Z"},
	}

	r := MapReview(raw, testScope)
	assert.Equal(t, "abc", r.ReviewID)
	assert.Equal(t, "Jane", r.ReviewerName)
	require.NotNil(t, r.ReviewerDisplayName)
	assert.Equal(t, "Jane", *r.ReviewerDisplayName)
	assert.Equal(t, 4, r.Rating)
	assert.Equal(t, "loc-internal", r.LocationID)
	assert.Equal(t, "123", r.GoogleLocationID)
	require.NotNil(t, r.ReviewDate)
	assert.Equal(t, time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC), *r.ReviewDate)
	assert.True(t, r.HasReply)
	assert.Equal(t, models.ReviewStatusReplied, r.Status)
	require.NotNil(t, r.ReviewURL)
	assert.Equal(t, "https://mybusiness.googleapis.com/v4/accounts/1/locations/123/reviews/abc", *r.ReviewURL)

	t.Run("anonymous reviewer", func(t *testing.T) {
		r := MapReview(RawReview{ReviewID: "x"}, testScope)
		assert.Nil(t, r.ReviewURL, "no resource name means no canonical url")
		assert.Equal(t, "Anonymous", r.ReviewerName)
		assert.Nil(t, r.ReviewerDisplayName)
		assert.Equal(t, 0, r.Rating)
		assert.False(t, r.HasReply)
	})

	t.Run("whitespace reply is no reply", func(t *testing.T) {
		r := MapReview(RawReview{ReviewID: "x", Reply: &RawReviewReply{Comment: "   "}}, testScope)
		assert.False(t, r.HasReply)
		assert.Nil(t, r.ReplyText)
		assert.Equal(t, models.ReviewStatusPending, r.Status)
	})
}

func TestMapQuestion(t *testing.T) {
	t.Run("first answer wins", func(t *testing.T) {
		raw := RawQuestion{
			Name:   "locations/123/questions/q1",
			Text:   "Do you have parking?",
			Author: &RawAuthor{DisplayName: "Sam"},
			TopAnswers: []RawAnswer{
				{Text: "Yes, behind the shop", Author: &RawAuthor{DisplayName: "Owner"}, UpdateTime: "2024-01-05T00:00:00Z"},
				{Text: "No", Author: &RawAuthor{DisplayName: "Someone"}},
			},
		}
		q := MapQuestion(raw, testScope)
		assert.Equal(t, "q1", q.QuestionID)
		assert.Equal(t, models.QuestionStatusAnswered, q.Status)
		require.NotNil(t, q.AnswerText)
		assert.Equal(t, "Yes, behind the shop", *q.AnswerText)
		require.NotNil(t, q.AnswerAuthor)
		assert.Equal(t, "Owner", *q.AnswerAuthor)
		require.NotNil(t, q.AnswerDate)
		assert.Equal(t, 2, q.TotalAnswerCount)
		assert.Equal(t, "Sam", q.AuthorName)
	})

	t.Run("unanswered", func(t *testing.T) {
		q := MapQuestion(RawQuestion{Name: "locations/123/questions/q2", Text: "Open late?"}, testScope)
		assert.Equal(t, models.QuestionStatusUnanswered, q.Status)
		assert.Nil(t, q.AnswerText)
		assert.Nil(t, q.AnswerAuthor)
		assert.Nil(t, q.AnswerDate)
		assert.Equal(t, "Anonymous", q.AuthorName)
		assert.Nil(t, q.AuthorDisplayName)
	})

	t.Run("answer without author or update time", func(t *testing.T) {
		q := MapQuestion(RawQuestion{Name: "q3", TopAnswers: []RawAnswer{{Text: "Maybe"}}}, testScope)
		assert.Equal(t, models.QuestionStatusAnswered, q.Status)
		assert.Nil(t, q.AnswerAuthor)
		assert.Nil(t, q.AnswerDate)
	})
}

func TestNormalizeLocationID(t *testing.T) {
	assert.Equal(t, "123", NormalizeLocationID("123"))
	assert.Equal(t, "abc_def_9", NormalizeLocationID("ABC--def//9"))
	assert.Equal(t, "_x_", NormalizeLocationID(" x "))
}

func TestMapLocation(t *testing.T) {
	full := &RawLocation{
		Name:  "locations/987",
		Title: "Corner Cafe",
		StorefrontAddress: &mybusiness.PostalAddress{
			AddressLines:       []string{"1 Main St"},
			Locality:           "Springfield",
			AdministrativeArea: "IL",
			PostalCode:         "62701",
		},
		PhoneNumbers: &mybusiness.PhoneNumbers{PrimaryPhone: "+1 555 0100"},
		WebsiteUri:   "https://cafe.example",
		Categories:   &mybusiness.Categories{PrimaryCategory: &mybusiness.Category{DisplayName: "Cafe"}},
		Latlng:       &mybusiness.LatLng{Latitude: 39.8, Longitude: -89.6},
		OpenInfo:     &mybusiness.OpenInfo{Status: "OPEN"},
		Profile:      &mybusiness.Profile{Description: "Coffee and pastries"},
		RegularHours: &mybusiness.BusinessHours{Periods: []*mybusiness.TimePeriod{{OpenDay: "MONDAY"}}},
		Metadata:     &mybusiness.Metadata{PlaceId: "place-1"},
	}

	loc := MapLocation(full, testScope)
	assert.Equal(t, "987", loc.LocationID)
	assert.Equal(t, "987", loc.NormalizedID)
	assert.Equal(t, "Corner Cafe", loc.Name)
	assert.Equal(t, "1 Main St, Springfield, IL, 62701", loc.Address)
	assert.Equal(t, 100, loc.ProfileCompleteness)
	assert.False(t, loc.IsArchived)
	assert.True(t, loc.IsActive)
	assert.Equal(t, "OPEN", loc.Metadata["openStatus"])
	assert.Equal(t, "place-1", loc.Metadata["placeId"])

	closed := &RawLocation{Name: "locations/1", Title: "Gone", OpenInfo: &mybusiness.OpenInfo{Status: "CLOSED_PERMANENTLY"}}
	loc = MapLocation(closed, testScope)
	assert.True(t, loc.IsArchived)
	assert.False(t, loc.IsActive)
	assert.Equal(t, 13, loc.ProfileCompleteness)

	bare := MapLocation(&RawLocation{Name: "locations/2"}, testScope)
	assert.False(t, bare.IsArchived)
	assert.NotContains(t, bare.Metadata, "openStatus")
	assert.Equal(t, 0, bare.ProfileCompleteness)
}

func TestMapInsights(t *testing.T) {
	series := []RawMetricSeries{
		{DailyMetric: "CALL_CLICKS", TimeSeries: RawTimeSeries{DatedValues: []RawDatedValue{
			{Date: RawDate{2024, 3, 2}, Value: "7"},
			{Date: RawDate{2024, 3, 1}, Value: "3"},
		}}},
		{DailyMetric: "WEBSITE_CLICKS", TimeSeries: RawTimeSeries{DatedValues: []RawDatedValue{
			{Date: RawDate{2024, 3, 1}},
			{Date: RawDate{2024, 3, 2}, Value: "12"},
		}}},
	}

	days := MapInsights(series, testScope)
	require.Len(t, days, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), days[0].MetricDate)
	assert.Equal(t, map[string]int64{"call_clicks": 3}, days[0].Metrics)
	assert.Equal(t, map[string]int64{"call_clicks": 7, "website_clicks": 12}, days[1].Metrics)
	assert.Equal(t, "loc-internal", days[1].LocationID)
}

func TestMapPostAndMedia(t *testing.T) {
	post := MapPost(RawPost{
		Name:         "accounts/1/locations/123/localPosts/p9",
		Summary:      "Spring sale",
		TopicType:    "OFFER",
		State:        "LIVE",
		CallToAction: &RawCallToAction{ActionType: "SHOP", URL: "https://shop"},
		Media:        []RawMediaItem{{GoogleURL: "https://img/1"}},
		CreateTime:   "2024-04-01T12:00:00Z",
	}, testScope)
	assert.Equal(t, "p9", post.PostID)
	require.NotNil(t, post.CallToAction)
	assert.Equal(t, "SHOP", *post.CallToAction)
	require.NotNil(t, post.MediaURL)
	assert.Equal(t, "https://img/1", *post.MediaURL)
	assert.Nil(t, post.UpdatedAt)

	media := MapMedia(RawMediaItem{
		Name:                "accounts/1/locations/123/media/m1",
		MediaFormat:         "PHOTO",
		LocationAssociation: &RawMediaAssociation{Category: "EXTERIOR"},
		Insights:            &RawMediaInsights{ViewCount: "1500"},
	}, testScope)
	assert.Equal(t, "m1", media.MediaID)
	assert.Equal(t, int64(1500), media.ViewCount)
	require.NotNil(t, media.Category)
	assert.Equal(t, "EXTERIOR", *media.Category)
	assert.Nil(t, media.Description)
}

func TestSummarizeReviews(t *testing.T) {
	avg, n := SummarizeReviews(nil)
	assert.Zero(t, avg)
	assert.Zero(t, n)

	avg, n = SummarizeReviews([]*models.Review{{Rating: 5}, {Rating: 4}, {Rating: 4}})
	assert.Equal(t, 4.33, avg)
	assert.Equal(t, 3, n)
}
