package echoapi

import (
	"sort"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
)

const (
	userAudience      = "clubhub"
	candidateAudience = "candidate"

	userTokenKey      = "userToken"
	candidateTokenKey = "candidateToken"
	contextUserKey    = "user"
)

// Claims represents the authorization claims of a club user, transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Username     string   `json:"username,omitempty"`
	Email        string   `json:"email,omitempty"`
	IsAdmin      bool     `json:"is_admin,omitempty"`
	IsManager    bool     `json:"is_manager,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

// CandidateClaims scope a token to a single quiz attempt.
// Subject is the attempt ID; the token expires shortly after the attempt does.
type CandidateClaims struct {
	jwt.StandardClaims
	QuizID int64  `json:"quiz"`
	Email  string `json:"email"`
}

// tokenAuth issues and checks the tokens of both club users and candidates.
// Candidate tokens are signed with their own key so neither kind can pass for the other.
type tokenAuth struct {
	conf         *core.Config
	userJWT      middleware.JWTConfig
	candidateJWT middleware.JWTConfig
}

func newTokenAuth(conf *core.Config) *tokenAuth {
	return &tokenAuth{
		conf: conf,
		userJWT: middleware.JWTConfig{
			SigningKey:    []byte(conf.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    userTokenKey,
			Claims:        new(Claims),
		},
		candidateJWT: middleware.JWTConfig{
			SigningKey:    []byte(candidateAudience + ":" + conf.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    candidateTokenKey,
			Claims:        new(CandidateClaims),
		},
	}
}

func (ta *tokenAuth) userMiddleware() echo.MiddlewareFunc {
	return middleware.JWTWithConfig(ta.userJWT)
}

func (ta *tokenAuth) candidateMiddleware() echo.MiddlewareFunc {
	return middleware.JWTWithConfig(ta.candidateJWT)
}

func (ta *tokenAuth) userClaims(usr user.User, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    ta.conf.AppName,
			Subject:   usr.ID,
			Audience:  userAudience,
			ExpiresAt: now.Add(ta.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     usr.Username,
		Email:        usr.Email,
		IsAdmin:      usr.IsAdmin(),
		IsManager:    usr.IsManager(),
		Roles:        usr.Roles,
	}
}

// candidateClaims are valid until the attempt ends, plus a grace period to let a late submission through.
func (ta *tokenAuth) candidateClaims(a quiz.Attempt) *CandidateClaims {
	now := time.Now()
	exp := a.EndsAt
	if exp.Before(now) {
		exp = now
	}
	return &CandidateClaims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    ta.conf.AppName,
			Subject:   a.ID,
			Audience:  candidateAudience,
			ExpiresAt: exp.Add(ta.conf.Server.CandidateTokenGrace).Unix(),
			IssuedAt:  now.Unix(),
		},
		QuizID: a.QuizID,
		Email:  a.CandidateEmail,
	}
}

func (ta *tokenAuth) userToken(claims *Claims) (string, error) {
	return sign(ta.userJWT, claims)
}

func (ta *tokenAuth) candidateToken(a quiz.Attempt) (string, error) {
	return sign(ta.candidateJWT, ta.candidateClaims(a))
}

func sign(conf middleware.JWTConfig, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(conf.SigningMethod), claims)
	ss, err := token.SignedString(conf.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (ta *tokenAuth) authenticate(ctx echo.Context, uname, pwd string, svc user.Service) (*Claims, error) {
	rctx := ctx.Request().Context()
	usr, err := svc.GetByUsernameOrEmail(rctx, uname)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if !usr.IsActive {
		return nil, errAccountDeactivated
	}
	usr, err = svc.SetLastLogin(rctx, usr)
	if err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}
	return ta.userClaims(usr), nil
}

func (ta *tokenAuth) refreshToken(ctx echo.Context, svc user.Service) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	usr, err := getContextUser(ctx, svc, claims)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}
	if !usr.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(ta.conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := ta.userToken(ta.userClaims(usr, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(userTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok && claims.VerifyAudience(userAudience, true) {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getCandidateClaims(ctx echo.Context) (CandidateClaims, error) {
	if token, ok := ctx.Get(candidateTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*CandidateClaims); ok && claims.VerifyAudience(candidateAudience, true) {
			return *claims, nil
		}
	}
	return CandidateClaims{}, errCandidateUnauthorized
}

func getContextUser(ctx echo.Context, svc user.Service, clms ...Claims) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return user.User{}, errors.Wrap(err, "getting context claims")
		}
	}

	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

func contextHasAnyRole(ctx echo.Context, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	if claims, err := getContextClaims(ctx); err == nil {
		sort.Strings(claims.Roles)
		for _, role := range roles {
			if i := sort.SearchStrings(claims.Roles, role); i < len(claims.Roles) {
				if match := claims.Roles[i]; role == match {
					return true
				}
			}
		}
	}
	return false
}
