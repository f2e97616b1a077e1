package echoapi

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/clubhub/core/user"
	"github.com/trezcool/clubhub/tests"
)

func Test_userApi_login(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.usrRepo, "Jane", "jane", "jane@test.cd", testutil.Password, []string{user.RoleMember}, true)
	testutil.CreateUser(t, app.usrRepo, "Gone", "gone", "gone@test.cd", testutil.Password, nil, false)

	login := func(uname, pwd string) []byte {
		return marshalObj(t, LoginRequest{Username: uname, Password: pwd})
	}
	failed := marshalObj(t, httpErr{Error: "authentication failed"})

	runHTTPTests(t, app, []httpTest{
		{
			name: "required fields", method: http.MethodPost, path: "/v1/users/login", body: login("", ""),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{name: "unknown user", method: http.MethodPost, path: "/v1/users/login", body: login("nobody", testutil.Password), wantCode: http.StatusBadRequest, wantData: failed},
		{name: "wrong password", method: http.MethodPost, path: "/v1/users/login", body: login("jane", "nope"), wantCode: http.StatusBadRequest, wantData: failed},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/login", body: login("gone", testutil.Password),
			wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "account deactivated"}),
		},
	})

	for _, uname := range []string{"jane", "JANE@test.cd"} {
		req, rec := newRequest(http.MethodPost, "/v1/users/login/", login(uname, testutil.Password))
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp LoginResponse
		decode(t, rec, &resp)
		claims := new(Claims)
		_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(app.conf.SecretKey), nil
		})
		require.NoError(t, err)
		assert.Equal(t, usr.ID, claims.Subject)
		assert.Equal(t, userAudience, claims.Audience)
		assert.Equal(t, []string{user.RoleMember}, claims.Roles)
		assert.False(t, claims.IsAdmin)
	}
}

func Test_userApi_tokenRefresh(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.usrRepo, "Jane", "jane", "jane@test.cd", "", nil, true)

	req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", app.getToken(t, usr))
	app.do(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)

	// a candidate token is no user token
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/token-refresh", app.start(t, app.createQuiz(t, "Q"), "jane@test.cd").Token)
	app.do(req, rec)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_userApi_register(t *testing.T) {
	app := setup(t)
	admin := app.createAdmin(t)
	member := testutil.CreateUser(t, app.usrRepo, "Member", "member", "member@test.cd", "", []string{user.RoleMember}, true)

	newUser := func(roles ...string) []byte {
		return marshalObj(t, user.NewUser{
			Name:            "New Member",
			Username:        "newbie",
			Email:           "newbie@test.cd",
			Password:        testutil.Password,
			PasswordConfirm: testutil.Password,
			Roles:           roles,
		})
	}

	runHTTPTests(t, app, []httpTest{
		{
			name: "admin required", method: http.MethodPost, path: "/v1/users/register", token: app.getToken(t, member),
			body: newUser(user.RoleMember), wantCode: http.StatusForbidden,
		},
		{
			name: "role above own", method: http.MethodPost, path: "/v1/users/register", token: app.getToken(t, admin),
			body: newUser(user.RoleAdminOwner), wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"roles": errNoPermsToSetRoles}),
		},
		{
			name: "created", method: http.MethodPost, path: "/v1/users/register", token: app.getToken(t, admin),
			body: newUser(user.RoleManagerQuizzes), wantCode: http.StatusCreated,
		},
		{
			name: "duplicate", method: http.MethodPost, path: "/v1/users/register", token: app.getToken(t, admin),
			body: newUser(user.RoleMember), wantCode: http.StatusBadRequest,
		},
	})
}

func Test_userApi_detail(t *testing.T) {
	app := setup(t)
	admin := app.createAdmin(t)
	jane := testutil.CreateUser(t, app.usrRepo, "Jane", "jane", "jane@test.cd", "", []string{user.RoleMember}, true)
	john := testutil.CreateUser(t, app.usrRepo, "John", "john", "john@test.cd", "", []string{user.RoleMember}, true)

	path := func(usr user.User) string { return fmt.Sprintf("/v1/users/%s", usr.ID) }
	notFound := marshalObj(t, httpErr{Error: "not found"})

	runHTTPTests(t, app, []httpTest{
		{name: "self", path: path(jane), token: app.getToken(t, jane), wantCode: http.StatusOK},
		{name: "other user", path: path(john), token: app.getToken(t, jane), wantCode: http.StatusNotFound, wantData: notFound},
		{name: "admin", path: path(john), token: app.getToken(t, admin), wantCode: http.StatusOK},
		{
			name: "member cannot change roles", method: http.MethodPut, path: path(jane), token: app.getToken(t, jane),
			body: marshalObj(t, map[string]interface{}{"roles": []string{user.RoleAdmin}}), wantCode: http.StatusForbidden,
		},
		{
			name: "no self deletion", method: http.MethodDelete, path: path(admin), token: app.getToken(t, admin),
			wantCode: http.StatusForbidden,
		},
		{name: "deleted", method: http.MethodDelete, path: path(john), token: app.getToken(t, admin), wantCode: http.StatusNoContent},
		{name: "gone", path: path(john), token: app.getToken(t, admin), wantCode: http.StatusNotFound, wantData: notFound},
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	app := setup(t)
	testutil.CreateUser(t, app.usrRepo, "Jane", "jane", "jane@test.cd", testutil.Password, nil, true)

	for _, email := range []string{"jane@test.cd", "nobody@test.cd"} {
		req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", marshalObj(t, PasswordResetRequest{Email: email}))
		app.do(req, rec)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	sent := app.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "jane@test.cd", sent[0].To[0].Address)
}
