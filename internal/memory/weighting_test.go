package memory

import (
	"math"
	"testing"
	"time"
)

func f64(v float64) *float64 { return &v }

func TestEmotionalMatchNeutralWhenEmpty(t *testing.T) {
	full := EmotionalProfile{Valence: f64(0.8), Arousal: f64(0.5)}
	if got := EmotionalMatch(EmotionalProfile{}, full); got != 0.5 {
		t.Fatalf("got %v, want 0.5 for an empty query profile", got)
	}
	if got := EmotionalMatch(full, EmotionalProfile{}); got != 0.5 {
		t.Fatalf("got %v, want 0.5 for an empty candidate profile", got)
	}
}

func TestEmotionalMatchIdenticalProfiles(t *testing.T) {
	p := EmotionalProfile{
		Valence:  f64(0.6),
		Arousal:  f64(0.4),
		Emotions: map[string]float64{"joy": 0.9, "trust": 0.3},
	}
	got := EmotionalMatch(p, p)
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("got %v, want 1.0 for identical profiles", got)
	}
}

func TestEmotionalMatchOpposedValence(t *testing.T) {
	q := EmotionalProfile{Valence: f64(1.0)}
	c := EmotionalProfile{Valence: f64(-1.0)}
	// Valence component 0, arousal and emotions neutral: 0.4*0 + 0.2*0.5 + 0.4*0.5.
	want := 0.3
	if got := EmotionalMatch(q, c); math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEmotionalMatchMissingComponentsScoreNeutral(t *testing.T) {
	q := EmotionalProfile{Valence: f64(0.5)}
	c := EmotionalProfile{Valence: f64(0.5), Arousal: f64(0.9), Emotions: map[string]float64{"joy": 1}}
	// Valence matches fully; arousal and emotions are one-sided.
	want := 0.4*1.0 + 0.2*0.5 + 0.4*0.5
	if got := EmotionalMatch(q, c); math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEmotionalMatchDisjointEmotions(t *testing.T) {
	q := EmotionalProfile{Emotions: map[string]float64{"joy": 1}}
	c := EmotionalProfile{Emotions: map[string]float64{"fear": 1}}
	// Cosine over disjoint dimensions is 0.
	want := 0.4*0.5 + 0.2*0.5 + 0.4*0.0
	if got := EmotionalMatch(q, c); math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestReweightEmotionalBounds(t *testing.T) {
	// Perfect match boosts by 20%, total mismatch cuts by 20%.
	if got := ReweightEmotional(1.0, 1.0); math.Abs(got-1.2) > 1e-9 {
		t.Fatalf("got %v, want 1.2", got)
	}
	if got := ReweightEmotional(1.0, 0.0); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("got %v, want 0.8", got)
	}
	if got := ReweightEmotional(1.0, 0.5); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("got %v, want the score unchanged at neutral match", got)
	}
}

func TestClarityDecreasesWithAge(t *testing.T) {
	now := time.Now()
	fresh := &Item{CreatedAt: now, Importance: 3}
	old := &Item{CreatedAt: now.AddDate(0, 0, -30), Importance: 3}

	cf := Clarity(fresh, now, DefaultClarityRate)
	co := Clarity(old, now, DefaultClarityRate)
	if math.Abs(cf-1.0) > 1e-9 {
		t.Fatalf("got %v, want 1.0 for a fresh item", cf)
	}
	if co >= cf {
		t.Fatalf("clarity did not decrease with age: fresh=%v old=%v", cf, co)
	}
	if co <= 0 || co > 1 {
		t.Fatalf("clarity %v out of range", co)
	}
}

func TestClarityImportanceSlowsDecay(t *testing.T) {
	now := time.Now()
	created := now.AddDate(0, 0, -60)
	trivial := &Item{CreatedAt: created, Importance: 1}
	vital := &Item{CreatedAt: created, Importance: 5}

	if Clarity(vital, now, DefaultClarityRate) <= Clarity(trivial, now, DefaultClarityRate) {
		t.Fatal("high-importance item decayed at least as fast as a trivial one")
	}
}

func TestClarityFutureItemsClampToNow(t *testing.T) {
	now := time.Now()
	future := &Item{CreatedAt: now.Add(time.Hour), Importance: 3}
	if got := Clarity(future, now, DefaultClarityRate); got != 1.0 {
		t.Fatalf("got %v, want 1.0 for a future timestamp", got)
	}
}

func TestSalient(t *testing.T) {
	if (&Item{}).Salient(0.7) {
		t.Fatal("item without valence reported salient")
	}
	if !(&Item{Valence: f64(-0.9)}).Salient(0.7) {
		t.Fatal("strongly negative valence not salient")
	}
	if (&Item{Valence: f64(0.7)}).Salient(0.7) {
		t.Fatal("threshold is exclusive")
	}
	if !(&Item{Valence: f64(0.71)}).Salient(0.7) {
		t.Fatal("valence just above threshold not salient")
	}
}
