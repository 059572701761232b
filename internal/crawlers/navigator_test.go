package crawlers

import (
	"context"
	"errors"
	"testing"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cleanPage     = `<html><head><title>Mağaza</title></head><body><div class="product">A</div></body></html>`
	challengePage = `<html><body><form id="challenge-form" class="cf-challenge-form"><input type="checkbox"></form></body></html>`
	antiBotPage   = `<html><body><p>Please solve the captcha</p><div class="product">A</div></body></html>`
	testURL       = "https://shop.example.com/islemci/"
)

func TestNavigator_Settles(t *testing.T) {
	page := newFakePage(map[string]string{testURL: cleanPage})
	nav := NewNavigator(DefaultNavigationPolicy(), testPacer())
	stats := &models.SessionStats{}

	run, err := nav.run(context.Background(), page, testURL, stats)
	require.NoError(t, err)

	assert.Equal(t, []navState{stateNavigating, stateChallengeCheck, stateAntiBotCheck, stateSettled}, run.trace)
	assert.Equal(t, 1, stats.PagesScraped)
	assert.Equal(t, 0, stats.ChallengesSolved)
	assert.Equal(t, 0, stats.ErrorsEncountered)
	assert.Equal(t, []string{testURL}, page.navigations)
}

func TestNavigator_ChallengeSolved(t *testing.T) {
	content := `<html><body><form><input type="checkbox"></form><div class="product">A</div></body></html>`
	page := newFakePage(map[string]string{testURL: content})
	// 首次检查与第一次轮询看到挑战页,之后消失
	page.challengeTitles = 2

	nav := NewNavigator(DefaultNavigationPolicy(), testPacer())
	stats := &models.SessionStats{}

	run, err := nav.run(context.Background(), page, testURL, stats)
	require.NoError(t, err)

	assert.Contains(t, run.trace, stateChallengePresent)
	assert.Contains(t, run.trace, stateSolving)
	assert.Equal(t, stateSettled, run.trace[len(run.trace)-1])
	assert.Equal(t, 1, stats.ChallengesSolved)
	assert.Equal(t, 1, stats.PagesScraped)
	assert.Equal(t, 1, run.attempt)
	assert.Contains(t, page.clicked, selectorCheckbox)
}

func TestNavigator_ChallengePersists(t *testing.T) {
	page := newFakePage(map[string]string{testURL: challengePage})
	nav := NewNavigator(DefaultNavigationPolicy(), testPacer())
	stats := &models.SessionStats{}

	err := nav.Navigate(context.Background(), page, testURL, stats)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNavigationExhausted))

	assert.Len(t, page.navigations, DefaultMaxAttempts)
	assert.Equal(t, DefaultMaxAttempts, stats.ErrorsEncountered)
	assert.Equal(t, 0, stats.ChallengesSolved)
	assert.Equal(t, 0, stats.PagesScraped)
	assert.Contains(t, page.clicked, selectorChallengeForm)
}

func TestNavigator_AntiBotCountermeasure(t *testing.T) {
	page := newFakePage(map[string]string{testURL: antiBotPage})
	nav := NewNavigator(DefaultNavigationPolicy(), testPacer())
	stats := &models.SessionStats{}

	run, err := nav.run(context.Background(), page, testURL, stats)
	require.NoError(t, err)

	assert.Equal(t, []navState{
		stateNavigating, stateChallengeCheck, stateAntiBotCheck,
		stateSuspicious, stateCountermeasure, stateSettled,
	}, run.trace)
	assert.GreaterOrEqual(t, page.moves, pointerMoves.Min)
	assert.LessOrEqual(t, page.moves, pointerMoves.Max)
	assert.Equal(t, 1, page.countScripts(scriptFocusClick))
	assert.Equal(t, 1, stats.PagesScraped)
}

func TestNavigator_RetriesNavigationErrors(t *testing.T) {
	tests := []struct {
		name          string
		errs          []error
		wantErr       bool
		wantNavs      int
		wantErrors    int
		wantScraped   int
		wantExhausted bool
	}{
		{
			name:        "第三次成功",
			errs:        []error{errors.New("net::ERR_TIMED_OUT"), errors.New("net::ERR_CONNECTION_RESET"), nil},
			wantNavs:    3,
			wantErrors:  2,
			wantScraped: 1,
		},
		{
			name:          "全部失败",
			errs:          []error{errors.New("net::ERR_NAME_NOT_RESOLVED")},
			wantErr:       true,
			wantNavs:      3,
			wantErrors:    3,
			wantExhausted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage(map[string]string{testURL: cleanPage})
			page.navErrs[testURL] = tt.errs
			nav := NewNavigator(DefaultNavigationPolicy(), testPacer())
			stats := &models.SessionStats{}

			run, err := nav.run(context.Background(), page, testURL, stats)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Contains(t, run.trace, stateBackoff)
			}
			assert.Equal(t, tt.wantExhausted, errors.Is(err, models.ErrNavigationExhausted))
			assert.Len(t, page.navigations, tt.wantNavs)
			assert.Equal(t, tt.wantErrors, stats.ErrorsEncountered)
			assert.Equal(t, tt.wantScraped, stats.PagesScraped)
		})
	}
}

func TestNavigator_Cancelled(t *testing.T) {
	t.Run("开始前已取消", func(t *testing.T) {
		page := newFakePage(map[string]string{testURL: cleanPage})
		nav := NewNavigator(DefaultNavigationPolicy(), testPacer())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := nav.Navigate(ctx, page, testURL, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, page.navigations)
	})

	t.Run("导航过程中取消", func(t *testing.T) {
		page := newFakePage(map[string]string{testURL: cleanPage})
		ctx, cancel := context.WithCancel(context.Background())
		page.onNavigate = func(string) { cancel() }
		nav := NewNavigator(DefaultNavigationPolicy(), testPacer())
		stats := &models.SessionStats{}

		err := nav.Navigate(ctx, page, testURL, stats)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, errors.Is(err, models.ErrNavigationExhausted))
		assert.Equal(t, 0, stats.PagesScraped)
		assert.Equal(t, 0, stats.ErrorsEncountered)
	})
}

func TestNavState_String(t *testing.T) {
	assert.Equal(t, "Settled", stateSettled.String())
	assert.Equal(t, "navState(99)", navState(99).String())
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		content   string
		challenge bool
		antiBot   bool
	}{
		{"普通页面", "İşlemci Fiyatları", "<div>Intel Core i5</div>", false, false},
		{"标题挑战", "Just a moment...", "", true, false},
		{"正文挑战", "", `<div class="cf-browser-verification">`, true, true},
		{"挑战区分大小写", "just a moment", "", false, false},
		{"反爬不区分大小写", "", "ACCESS DENIED", false, true},
		{"验证码", "", "please complete the Captcha", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.challenge, ContainsChallenge(tt.title, tt.content))
			assert.Equal(t, tt.antiBot, ContainsAntiBot(tt.content))
		})
	}
}
