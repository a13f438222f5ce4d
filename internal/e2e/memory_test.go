package e2e

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/consolidation"
	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/kv"
	"github.com/nidhogg/mnemo/internal/ltm"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/stm"
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

// run wraps m.Run so container and store cleanups deferred during setup
// still execute before the process exits.
func run(m *testing.M) int {
	if os.Getenv("MNEMO_E2E") == "" {
		return m.Run()
	}
	e2eEnabled = true

	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	neo4jURI, neo4jCleanup, err := startNeo4j(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "neo4j: %v\n", err)
		return 1
	}
	defer neo4jCleanup()

	testGraph, err = graph.NewNeo4jStore(neo4jURI, "", "", testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graph store: %v\n", err)
		return 1
	}
	defer testGraph.Close(ctx)

	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		return 1
	}
	defer pgCleanup()

	testLTM, err = ltm.New(pgDSN, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ltm store: %v\n", err)
		return 1
	}
	defer testLTM.Close()

	if err := testLTM.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		return 1
	}
	defer redisCleanup()

	testKV, err = kv.NewRedisStore(redisURL, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis kv: %v\n", err)
		return 1
	}
	defer testKV.Close()

	return m.Run()
}

func TestLTMRoundTrip(t *testing.T) {
	skipUnlessE2E(t)
	ctx := context.Background()

	valence := -0.8
	it := &memory.Item{
		ConversationID: "conv-rt",
		Content:        "the basement flooded during the storm",
		Kind:           memory.KindEvent,
		Importance:     4,
		Valence:        &valence,
		Emotions:       map[string]float64{"fear": 0.7, "sadness": 0.4},
	}
	if err := testLTM.Insert(ctx, it); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := testLTM.GetItem(ctx, it.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.Content != it.Content || got.Kind != memory.KindEvent || got.Importance != 4 {
		t.Fatalf("round trip mangled the item: %+v", got)
	}
	if got.Valence == nil || *got.Valence != -0.8 {
		t.Fatalf("got valence %v, want -0.8", got.Valence)
	}
	if got.Emotions["fear"] != 0.7 {
		t.Fatalf("emotions lost: %v", got.Emotions)
	}

	if _, err := testLTM.GetItem(ctx, uuid.New().String()); err != memory.ErrItemNotFound {
		t.Fatalf("got %v, want ErrItemNotFound", err)
	}
}

func TestLTMGetItemsAndListRecent(t *testing.T) {
	skipUnlessE2E(t)
	ctx := context.Background()

	conv := "conv-" + uuid.New().String()
	var ids []string
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		it := &memory.Item{
			ConversationID: conv,
			Content:        fmt.Sprintf("turn %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := testLTM.Insert(ctx, it); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
		ids = append(ids, it.ID)
	}

	items, err := testLTM.GetItems(ctx, append(ids[:2:2], uuid.New().String()))
	if err != nil {
		t.Fatalf("GetItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 with the missing id absent", len(items))
	}

	recent, err := testLTM.ListRecent(ctx, conv, 2)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d recent items, want 2", len(recent))
	}
	if recent[0].Content != "turn 2" || recent[1].Content != "turn 1" {
		t.Fatalf("wrong recency order: %s, %s", recent[0].Content, recent[1].Content)
	}
}

func TestGraphRoundTrip(t *testing.T) {
	skipUnlessE2E(t)
	ctx := context.Background()

	a, b := uuid.New().String(), uuid.New().String()
	ids, err := graph.Add(ctx, testGraph, &graph.Relation{
		SourceID: a, TargetID: b, Type: graph.RelationSimilarity,
		Strength: 0.8, Description: "same topic",
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d edges, want the forward and mirror pair", len(ids))
	}

	forward, err := testGraph.GetRelation(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetRelation failed: %v", err)
	}
	if forward.SourceID != a || forward.TargetID != b || forward.Strength != 0.8 {
		t.Fatalf("forward edge wrong: %+v", forward)
	}

	reverse, _ := testGraph.RelationsFrom(ctx, b)
	if len(reverse) != 1 || reverse[0].TargetID != a {
		t.Fatalf("mirror edge wrong: %v", reverse)
	}

	// Partial update keeps the untouched fields.
	strength := 0.05 // clamps up to the floor
	if err := testGraph.UpdateRelation(ctx, ids[0], graph.Update{Strength: &strength}); err != nil {
		t.Fatalf("UpdateRelation failed: %v", err)
	}
	updated, _ := testGraph.GetRelation(ctx, ids[0])
	if updated.Strength != graph.MinStrength {
		t.Fatalf("got strength %v, want floor", updated.Strength)
	}
	if updated.Description != "same topic" {
		t.Fatalf("description lost: %q", updated.Description)
	}

	if err := testGraph.UpdateRelation(ctx, uuid.New().String(), graph.Update{Strength: &strength}); err != graph.ErrRelationNotFound {
		t.Fatalf("got %v, want ErrRelationNotFound", err)
	}

	at := time.Now().Truncate(time.Millisecond)
	if err := testGraph.TouchActivated(ctx, ids, at); err != nil {
		t.Fatalf("TouchActivated failed: %v", err)
	}
	touched, _ := testGraph.GetRelation(ctx, ids[1])
	if touched.LastActivatedAt == nil {
		t.Fatal("activation time not persisted")
	}
}

func TestActivationOverNeo4j(t *testing.T) {
	skipUnlessE2E(t)
	ctx := context.Background()

	a, b, c := uuid.New().String(), uuid.New().String(), uuid.New().String()
	if _, err := testGraph.AddRelation(ctx, &graph.Relation{
		SourceID: a, TargetID: b, Type: graph.RelationCausal, Strength: 0.6,
	}); err != nil {
		t.Fatalf("AddRelation failed: %v", err)
	}
	if _, err := testGraph.AddRelation(ctx, &graph.Relation{
		SourceID: b, TargetID: c, Type: graph.RelationThematic, Strength: 0.5,
	}); err != nil {
		t.Fatalf("AddRelation failed: %v", err)
	}

	sp := memory.NewSpreader(testGraph, nil, testLogger)
	result, err := sp.Spread(ctx, a, memory.ActivationOpts{MaxDepth: 2, Threshold: 0.2})
	if err != nil {
		t.Fatalf("Spread failed: %v", err)
	}
	if len(result.Activations) != 3 {
		t.Fatalf("got %d activations, want 3", len(result.Activations))
	}
	last := result.Activations[2]
	if last.MemoryID != c || math.Abs(last.Strength-0.3) > 1e-9 {
		t.Fatalf("got %s at %v, want the two-hop product", last.MemoryID, last.Strength)
	}
}

func TestSTMOverRedis(t *testing.T) {
	skipUnlessE2E(t)
	ctx := context.Background()

	s := stm.New(testKV, 5, testLogger)
	conv := "conv-" + uuid.New().String()
	for i := 0; i < 8; i++ {
		if _, err := s.Append(ctx, conv, stm.Entry{Author: "user", Text: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	entries, err := s.Read(ctx, conv)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want the bound of 5", len(entries))
	}
	if entries[0].Text != "m3" || entries[4].Text != "m7" {
		t.Fatalf("wrong window: %v", entries)
	}
}

func TestConsolidationOverRedis(t *testing.T) {
	skipUnlessE2E(t)
	ctx := context.Background()
	base := time.Now()

	id, err := testGraph.AddRelation(ctx, &graph.Relation{
		SourceID: uuid.New().String(), TargetID: uuid.New().String(),
		Type: graph.RelationCausal, Strength: 0.8, CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("AddRelation failed: %v", err)
	}

	queue := consolidation.NewQueue(testKV, testLogger)
	runner := consolidation.NewRunner(queue, testGraph, nil, nil, consolidation.Config{}, testLogger)

	task := &consolidation.Task{
		Type:        consolidation.TaskDecay,
		RelationIDs: []string{id},
		ScheduledAt: base,
	}
	if err := queue.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if _, err := runner.RunDue(ctx, base.Add(90*24*time.Hour)); err != nil {
		t.Fatalf("RunDue failed: %v", err)
	}

	rel, _ := testGraph.GetRelation(ctx, id)
	want := 0.8 * math.Exp(-0.01*90)
	if math.Abs(rel.Strength-want) > 1e-6 {
		t.Fatalf("got strength %v, want %v", rel.Strength, want)
	}

	done, err := queue.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !done.Completed {
		t.Fatal("task not marked completed")
	}
	if err := queue.Complete(ctx, task.ID); err != nil {
		t.Fatalf("repeat Complete failed: %v", err)
	}
}
