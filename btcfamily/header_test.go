package btcfamily

import "testing"

func TestDifficultyFromBitsMatchesDiff1AtMinimumDifficulty(t *testing.T) {
	diff := difficultyFromBits("1d00ffff")
	if diff < 0.99 || diff > 1.01 {
		t.Fatalf("difficulty for the diff-1 bits value = %v, want ~1.0", diff)
	}
}

func TestTargetFromDifficultyIsMonotonicallyDecreasing(t *testing.T) {
	low := targetFromDifficulty(1)
	high := targetFromDifficulty(1000)
	if high.Cmp(low) >= 0 {
		t.Fatalf("target for difficulty 1000 should be smaller than target for difficulty 1")
	}
}

func TestTargetFromDifficultyNonPositiveIsMaxTarget(t *testing.T) {
	got := targetFromDifficulty(0)
	if got.Cmp(maxUint256) != 0 {
		t.Fatalf("targetFromDifficulty(0) = %v, want maxUint256", got)
	}
}

func TestHashMeetsTargetRoundTrip(t *testing.T) {
	target := targetFromDifficulty(1)
	zeroHash := make([]byte, 32)
	if !hashMeetsTarget(zeroHash, target) {
		t.Fatalf("an all-zero hash must meet any positive target")
	}
	maxHash := make([]byte, 32)
	for i := range maxHash {
		maxHash[i] = 0xff
	}
	if hashMeetsTarget(maxHash, target) {
		t.Fatalf("an all-0xff hash must not meet a diff-1 target")
	}
}
