package auth

import (
	"context"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// LifecycleService is the set of lifecycle operations the HTTP layer exposes
type LifecycleService interface {
	Register(ctx context.Context, msg RegisterMessage) (*RegisterResult, error)
	ResendVerification(ctx context.Context, email string) (*ResendResult, error)
	Verify(ctx context.Context, token string) (*VerifyResult, error)
	SetPassword(ctx context.Context, token, password, confirm string) (*Account, error)
	RequestReset(ctx context.Context, email string) (*ResetRequestResult, error)
	ResetPassword(ctx context.Context, token, password, confirm string) (*Account, error)
	ChangePassword(ctx context.Context, msg ChangePasswordMessage) (*Account, error)
	UpdateProfile(ctx context.Context, msg UpdateProfileMessage) (*Account, error)
	GetProfile(ctx context.Context, req AccountRequest) (*Account, error)
	DeleteAccount(ctx context.Context, req AccountRequest) error
}

var _ LifecycleService = (*LifecycleManager)(nil)

// RegisterAuthRoutes mounts the credential lifecycle routes on app.
// protected guards the routes that need a session.
func RegisterAuthRoutes(app fiber.Router, protected fiber.Handler, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	optional := controller.OptionalSession
	if optional == nil {
		optional = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	app.Post(controller.Routes.Register, optional, controller.RegistrationCreate).
		Name("register.post")
	app.Post(controller.Routes.ResendVerification, controller.ResendVerification).
		Name("resend-verification.post")
	app.Get(controller.Routes.VerifySignup, controller.VerifySignup).
		Name("verify-signup.get")
	app.Post(controller.Routes.SetPassword, controller.SetPassword).
		Name("set-password.post")
	app.Post(controller.Routes.RequestReset, controller.PasswordResetRequest).
		Name("pwd-reset.post")
	app.Post(controller.Routes.ResetPassword, controller.PasswordResetExecute).
		Name("pwd-reset-do.post")
	app.Post(controller.Routes.Login, controller.LoginPost).
		Name("sign-in.post")
	app.Put(controller.Routes.ChangePassword+"/:id", protected, controller.ChangePassword).
		Name("password.put")
	app.Get(controller.Routes.Profile+"/:id", protected, controller.ProfileShow).
		Name("profile.get")
	app.Patch(controller.Routes.Profile+"/:id", protected, controller.ProfileUpdate).
		Name("profile.patch")
	app.Delete(controller.Routes.Accounts+"/:id", protected, controller.AccountDelete).
		Name("accounts.delete")
	app.Get(controller.Routes.Health, controller.Health).
		Name("healthz.get")

	return controller
}

type AuthControllerRoutes struct {
	Register           string
	ResendVerification string
	VerifySignup       string
	SetPassword        string
	RequestReset       string
	ResetPassword      string
	Login              string
	ChangePassword     string
	Profile            string
	Accounts           string
	Health             string
}

type AuthController struct {
	Debug      bool
	Logger     Logger
	Lifecycle  LifecycleService
	Auther     SessionIssuer
	Routes     *AuthControllerRoutes
	ContextKey string
	// OptionalSession resolves a session on routes open to anonymous
	// requests, registration uses it to let admins create staff accounts
	OptionalSession fiber.Handler
}

type AuthControllerOption func(*AuthController) *AuthController

// WithControllerLifecycle sets the lifecycle service
func WithControllerLifecycle(lifecycle LifecycleService) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Lifecycle = lifecycle
		return c
	}
}

// WithControllerAuthenticator sets the session issuer used by sign in
func WithControllerAuthenticator(auther SessionIssuer) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithControllerContextKey sets the Locals key the session middleware uses
func WithControllerContextKey(key string) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if key != "" {
			c.ContextKey = key
		}
		return c
	}
}

// WithControllerOptionalSession sets the middleware that loads a session
// when one is sent, see sessionware.Config.Optional
func WithControllerOptionalSession(handler fiber.Handler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.OptionalSession = handler
		return c
	}
}

// WithControllerDebug dumps request payloads at debug level
func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		ContextKey: "session",
		Routes: &AuthControllerRoutes{
			Register:           "/register",
			ResendVerification: "/resend-verification",
			VerifySignup:       "/verify-signup",
			SetPassword:        "/set-password",
			RequestReset:       "/request-reset-password",
			ResetPassword:      "/reset-password",
			Login:              "/signin",
			ChangePassword:     "/password",
			Profile:            "/profile",
			Accounts:           "/accounts",
			Health:             "/healthz",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Lifecycle == nil {
		panic("Missing LifecycleService in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing SessionIssuer in auth controller...")
	}

	return c
}

// RegistrationCreatePayload is the sign up payload
type RegistrationCreatePayload struct {
	Email           string `form:"email" json:"email"`
	Name            string `form:"name" json:"name"`
	Role            string `form:"role" json:"role"`
	RollNo          string `form:"rollno" json:"rollno"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Role, validation.In(RoleStudent, RoleFaculty, RoleSecretary, RoleAdmin)),
		validation.Field(&r.RollNo, validation.Length(0, 64)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) RegistrationCreate(c *fiber.Ctx) error {
	payload := new(RegistrationCreatePayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	msg := RegisterMessage{
		Email:           payload.Email,
		DisplayName:     payload.Name,
		Role:            payload.Role,
		RollNo:          payload.RollNo,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	}
	if session, err := a.session(c); err == nil {
		msg.ActorID = session.GetUserID()
		msg.ActorRole = session.GetRole()
	}

	res, err := a.Lifecycle.Register(c.UserContext(), msg)
	if err != nil {
		return err
	}

	status := fiber.StatusCreated
	if res.Overwritten {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(fiber.Map{
		"message": "verification email sent",
		"account": res.Account,
		"warning": warningPayload(res.NotificationWarning),
	})
}

// EmailPayload carries a single email address
type EmailPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r EmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
	)
}

func (a *AuthController) ResendVerification(c *fiber.Ctx) error {
	payload := new(EmailPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	res, err := a.Lifecycle.ResendVerification(c.UserContext(), payload.Email)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "verification email sent",
		"warning": warningPayload(res.NotificationWarning),
	})
}

// VerifySignup consumes the emailed token and redirects to the set
// password page. Pass format=json to get the redirect target instead.
func (a *AuthController) VerifySignup(c *fiber.Ctx) error {
	res, err := a.Lifecycle.Verify(c.UserContext(), c.Query("token"))
	if err != nil {
		return err
	}

	if c.Query("format") == "json" {
		return c.JSON(fiber.Map{
			"redirect_url":       res.RedirectURL,
			"set_password_token": res.SetPasswordToken,
			"already_verified":   res.AlreadyVerified,
		})
	}

	return c.Redirect(res.RedirectURL, fiber.StatusSeeOther)
}

// PasswordPayload holds a new password and its confirmation
type PasswordPayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.Length(1, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) SetPassword(c *fiber.Ctx) error {
	payload := new(PasswordPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	account, err := a.Lifecycle.SetPassword(c.UserContext(), c.Query("token"), payload.Password, payload.ConfirmPassword)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "password set, you can now log in",
		"account": account,
	})
}

func (a *AuthController) PasswordResetRequest(c *fiber.Ctx) error {
	payload := new(EmailPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	res, err := a.Lifecycle.RequestReset(c.UserContext(), payload.Email)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "password reset email sent",
		"warning": warningPayload(res.NotificationWarning),
	})
}

func (a *AuthController) PasswordResetExecute(c *fiber.Ctx) error {
	payload := new(PasswordPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	account, err := a.Lifecycle.ResetPassword(c.UserContext(), c.Query("token"), payload.Password, payload.ConfirmPassword)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "password updated",
		"account": account,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	grant, err := a.Auther.Authenticate(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	setCookieToken(c, a.ContextKey, grant.Token, grant.ExpiresAt)

	return c.JSON(grant)
}

// ChangePasswordPayload holds the current and new password
type ChangePasswordPayload struct {
	OldPassword     string `form:"old_password" json:"old_password"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) ChangePassword(c *fiber.Ctx) error {
	session, err := a.session(c)
	if err != nil {
		return err
	}

	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidPayload
	}

	payload := new(ChangePasswordPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	account, err := a.Lifecycle.ChangePassword(c.UserContext(), ChangePasswordMessage{
		AccountID:       accountID,
		ActorID:         session.GetUserID(),
		ActorRole:       session.GetRole(),
		OldPassword:     payload.OldPassword,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "password updated",
		"account": account,
	})
}

// ProfilePatchPayload is a partial profile update. Absent fields are left
// untouched, an empty string clears the field.
type ProfilePatchPayload struct {
	Name     *string `json:"name"`
	RollNo   *string `json:"rollno"`
	Address  *string `json:"address"`
	PhotoURL *string `json:"photo_url"`
	Role     *string `json:"role"`
}

// Validate will validate the payload
func (r ProfilePatchPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&r.RollNo, validation.Length(0, 64)),
		validation.Field(&r.PhotoURL, is.URL),
		validation.Field(&r.Role, validation.NilOrNotEmpty, validation.In(RoleStudent, RoleFaculty, RoleSecretary, RoleAdmin)),
	)
}

func (a *AuthController) ProfileUpdate(c *fiber.Ctx) error {
	session, err := a.session(c)
	if err != nil {
		return err
	}

	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidPayload
	}

	payload := new(ProfilePatchPayload)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	account, err := a.Lifecycle.UpdateProfile(c.UserContext(), UpdateProfileMessage{
		AccountID:   accountID,
		ActorID:     session.GetUserID(),
		ActorRole:   session.GetRole(),
		DisplayName: fieldFromPtr(payload.Name),
		RollNo:      fieldFromPtr(payload.RollNo),
		Address:     fieldFromPtr(payload.Address),
		PhotoURL:    fieldFromPtr(payload.PhotoURL),
		Role:        fieldFromPtr(payload.Role),
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"account": account,
	})
}

func (a *AuthController) ProfileShow(c *fiber.Ctx) error {
	req, err := a.accountRequest(c)
	if err != nil {
		return err
	}

	account, err := a.Lifecycle.GetProfile(c.UserContext(), req)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"account": account,
	})
}

func (a *AuthController) AccountDelete(c *fiber.Ctx) error {
	req, err := a.accountRequest(c)
	if err != nil {
		return err
	}

	if err := a.Lifecycle.DeleteAccount(c.UserContext(), req); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "account deleted",
	})
}

func (a *AuthController) accountRequest(c *fiber.Ctx) (AccountRequest, error) {
	session, err := a.session(c)
	if err != nil {
		return AccountRequest{}, err
	}

	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return AccountRequest{}, ErrInvalidPayload
	}

	return AccountRequest{
		AccountID: accountID,
		ActorID:   session.GetUserID(),
		ActorRole: session.GetRole(),
	}, nil
}

func (a *AuthController) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

type validatable interface {
	Validate() error
}

func (a *AuthController) bind(c *fiber.Ctx, payload validatable) error {
	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("parse payload", "path", c.Path(), "error", err)
		return goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse request body").
			WithTextCode(TextCodeInvalidPayload).
			WithCode(goerrors.CodeBadRequest)
	}

	if a.Debug {
		a.Logger.Debug("request payload", "path", c.Path(), "payload", print.MaybeSecureJSON(payload))
	}

	if err := payload.Validate(); err != nil {
		return goerrors.FromOzzoValidation(err, "invalid request payload").
			WithTextCode(TextCodeInvalidPayload).
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

func (a *AuthController) session(c *fiber.Ctx) (Session, error) {
	if session, ok := c.Locals(a.ContextKey).(Session); ok && session != nil {
		return session, nil
	}
	if session, ok := SessionFromContext(c.UserContext()); ok {
		return session, nil
	}
	return nil, ErrUnableToFindSession
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func fieldFromPtr(v *string) Field[string] {
	if v == nil {
		return Field[string]{}
	}
	return Some(*v)
}

func warningPayload(err error) any {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return fiber.Map{
			"message":   richErr.Message,
			"text_code": richErr.TextCode,
		}
	}
	return fiber.Map{"message": err.Error()}
}

// statusFromError maps a lifecycle error to its HTTP status
func statusFromError(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}
