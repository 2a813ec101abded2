package models

import "testing"

func TestReasoningMemory_SuccessRate(t *testing.T) {
	m := &ReasoningMemory{}
	if _, ok := m.SuccessRate(); ok {
		t.Error("SuccessRate() ok = true with zero denominator, want false")
	}

	m.TimesUsedInSuccess = 3
	m.TimesUsedInFailure = 1
	rate, ok := m.SuccessRate()
	if !ok {
		t.Fatal("SuccessRate() ok = false, want true")
	}
	if rate != 0.75 {
		t.Errorf("SuccessRate() = %v, want 0.75", rate)
	}
}

func TestReasoningMemory_RankScore_UndefinedTreatedAsHalf(t *testing.T) {
	m := &ReasoningMemory{}
	got := m.RankScore(1.0)
	want := 0.7*1.0 + 0.3*0.5
	if got != want {
		t.Errorf("RankScore() = %v, want %v", got, want)
	}
}

func TestCompatibleCategories(t *testing.T) {
	tests := []struct {
		in   MemoryCategory
		want []MemoryCategory
	}{
		{MemoryCategorySecurity, []MemoryCategory{MemoryCategorySecurity, MemoryCategoryValidation}},
		{MemoryCategoryRuntime, []MemoryCategory{MemoryCategoryRuntime, MemoryCategoryUserCorrection}},
		{MemoryCategoryValidation, []MemoryCategory{MemoryCategoryValidation}},
	}
	for _, tt := range tests {
		got := CompatibleCategories(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("CompatibleCategories(%s) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("CompatibleCategories(%s)[%d] = %s, want %s", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}
