package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestMessageFallsBackToCode() {
	s.Equal("verification link is invalid", New(CodeInvalidToken, "verification link is invalid").Error())
	s.Equal("invalid_transition", (&Error{Code: CodeInvalidTransition}).Error())
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	lookup := New(CodeNotFound, "request not found")

	s.True(errors.Is(lookup, &Error{Code: CodeNotFound}))
	s.False(errors.Is(lookup, &Error{Code: CodeInvalidToken}))
	s.False(errors.Is(lookup, errors.New("request not found")))

	// through an fmt wrap and a domain wrap with a different code
	chained := fmt.Errorf("status lookup: %w", &Error{Code: CodeInternal, Err: lookup})
	s.True(errors.Is(chained, &Error{Code: CodeNotFound}))
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("infrastructure error takes the given code", func() {
		cause := errors.New("connection reset by peer")
		err := Wrap(cause, CodePersistence, "failed to record consent")

		s.True(HasCode(err, CodePersistence))
		s.Equal("failed to record consent", err.Error())
		s.ErrorIs(err, cause)
	})

	s.Run("domain error keeps its original code", func() {
		err := Wrap(New(CodeInvalidTransition, "request is already completed"), CodeInternal, "complete request")

		s.True(HasCode(err, CodeInvalidTransition))
		s.False(HasCode(err, CodeInternal))
		s.Equal("complete request", err.Error())
	})
}

func (s *DomainErrorsSuite) TestHasCode() {
	s.False(HasCode(nil, CodeNotFound))
	s.False(HasCode(errors.New("plain"), CodeNotFound))
	s.True(HasCode(fmt.Errorf("submit: %w", New(CodeValidation, "attestation is required")), CodeValidation))
}

func (s *DomainErrorsSuite) TestRateLimited() {
	err := NewRateLimited("too many submissions, try again later", 300)

	var rl *RateLimitError
	s.Require().True(errors.As(err, &rl))
	s.Equal(300, rl.RetryAfter)
	s.True(HasCode(err, CodeRateLimited))
	s.True(errors.Is(err, &Error{Code: CodeRateLimited}))
	s.Equal("too many submissions, try again later", err.Error())

	var domainErr *Error
	s.Require().True(errors.As(fmt.Errorf("wrapped: %w", err), &domainErr))
	s.Equal(CodeRateLimited, domainErr.Code)
}
