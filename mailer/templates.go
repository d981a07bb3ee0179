package mailer

import (
	auth "github.com/campusease/go-auth"
)

const verifyEmailSubject = `{% autoescape off %}Verify your {{ app_name }} account{% endautoescape %}`

const verifyEmailBody = `{% autoescape off %}Hi {{ name|default:recipient }},

Thanks for signing up to {{ app_name }}. Confirm your email address by
opening the link below:

{{ link }}

The link expires in {{ expires_in }}. If you did not create an account you
can ignore this message.
{% endautoescape %}`

const resetPasswordSubject = `{% autoescape off %}Reset your {{ app_name }} password{% endautoescape %}`

const resetPasswordBody = `{% autoescape off %}Hi {{ name|default:recipient }},

We received a request to reset your {{ app_name }} password. Choose a new
password here:

{{ link }}

The link expires in {{ expires_in }} and can only be used once. If you did
not ask for a reset, your current password still works.
{% endautoescape %}`

// DefaultTemplates returns the built in templates for every notification kind
func DefaultTemplates() map[auth.NotificationKind]Template {
	return map[auth.NotificationKind]Template{
		auth.NotificationVerifyEmail: {
			Subject: verifyEmailSubject,
			Body:    verifyEmailBody,
		},
		auth.NotificationResetPassword: {
			Subject: resetPasswordSubject,
			Body:    resetPasswordBody,
		},
	}
}
