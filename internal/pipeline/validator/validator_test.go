package validator

import "testing"

func defaultConstraints() Constraints {
	return Constraints{
		MinLength:  1,
		MaxLength:  5000,
		Structural: DefaultStructuralConfig(),
		Quality:    DefaultQualityConfig(),
	}
}

func TestValidate_PlainTextIsValid(t *testing.T) {
	content := "This is a perfectly reasonable paragraph of plain generated text about the quarterly roadmap and its major milestones."
	r := Validate(content, defaultConstraints())
	if !r.IsValid {
		t.Fatalf("expected valid, got violations: %v", r.AllViolations)
	}
	if r.ContentHash == "" {
		t.Error("expected content hash on valid result")
	}
}

func TestValidate_EmptyContentIsBoundsViolationAndRetryable(t *testing.T) {
	r := Validate("   ", defaultConstraints())
	if r.IsValid {
		t.Fatal("expected invalid")
	}
	if r.FailureType != FailureBoundsViolation {
		t.Errorf("FailureType = %v, want bounds_violation", r.FailureType)
	}
	if !r.IsRetryable {
		t.Error("expected empty content to be retryable")
	}
}

func TestValidate_TooLongIsBoundsViolationAndRetryable(t *testing.T) {
	c := defaultConstraints()
	c.MaxLength = 10
	r := Validate("this content is far longer than ten characters", c)
	if r.IsValid {
		t.Fatal("expected invalid")
	}
	if r.FailureType != FailureBoundsViolation || !r.IsRetryable {
		t.Errorf("got failure=%v retryable=%v, want bounds_violation/true", r.FailureType, r.IsRetryable)
	}
}

func TestValidate_MarkdownHeaderIsStructuralAndNotRetryable(t *testing.T) {
	r := Validate("# Header\nSome body text that is long enough to pass bounds and quality checks easily.", defaultConstraints())
	if r.IsValid {
		t.Fatal("expected invalid")
	}
	if r.FailureType != FailureStructuralViolation {
		t.Errorf("FailureType = %v, want structural_violation", r.FailureType)
	}
	if r.IsRetryable {
		t.Error("structural violations must not be retryable")
	}
}

func TestValidate_StructuralTakesPrecedenceOverBounds(t *testing.T) {
	c := defaultConstraints()
	c.MaxLength = 5
	r := Validate("# Header with way too much text for the configured bound", c)
	if r.FailureType != FailureStructuralViolation {
		t.Errorf("FailureType = %v, want structural_violation to take precedence over bounds", r.FailureType)
	}
}

func TestValidate_RepetitiveContentIsQualityFailure(t *testing.T) {
	content := "same same same same same same same same same same same same"
	r := Validate(content, defaultConstraints())
	if r.IsValid {
		t.Fatal("expected invalid")
	}
	if r.FailureType != FailureQualityFailure {
		t.Errorf("FailureType = %v, want quality_failure", r.FailureType)
	}
	if r.IsRetryable {
		t.Error("quality failures must not be retryable")
	}
}

func TestValidate_BoilerplateIsQualityFailure(t *testing.T) {
	content := "This is lorem ipsum placeholder text that stands in for the real generated content here."
	r := Validate(content, defaultConstraints())
	if r.IsValid {
		t.Fatal("expected invalid")
	}
	if r.FailureType != FailureQualityFailure {
		t.Errorf("FailureType = %v, want quality_failure", r.FailureType)
	}
}

func TestValidate_CustomForbiddenPattern(t *testing.T) {
	c := defaultConstraints()
	c.Structural.CustomForbiddenPatterns = []string{"CONFIDENTIAL"}
	r := Validate("This text leaks a CONFIDENTIAL marker that should never appear in output.", c)
	if r.IsValid {
		t.Fatal("expected invalid due to custom pattern")
	}
	if r.FailureType != FailureStructuralViolation {
		t.Errorf("FailureType = %v, want structural_violation", r.FailureType)
	}
}

func TestValidate_HorizontalRuleAndTableRejected(t *testing.T) {
	r1 := Validate("Some intro text that is plenty long.\n---\nmore text after the rule appears here.", defaultConstraints())
	if r1.IsValid {
		t.Error("expected horizontal rule to invalidate content")
	}

	r2 := Validate("Some intro text that is plenty long.\n| a | b |\nmore text after the table appears here.", defaultConstraints())
	if r2.IsValid {
		t.Error("expected table row to invalidate content")
	}
}
