// Package access holds the static administrator allow-list.
package access

// Controller answers "may this user broadcast". The set is fixed at startup;
// there is no other authentication in this bot.
type Controller struct {
	admins map[int64]struct{}
}

func New(admins []int64) *Controller {
	set := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		set[id] = struct{}{}
	}
	return &Controller{admins: set}
}

func (c *Controller) Authorize(user int64) bool {
	_, ok := c.admins[user]
	return ok
}
