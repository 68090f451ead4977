package domain

type Channel struct {
	ID          ChannelID
	Name        string
	Description string
	Owner       string
	Subscribers map[string]struct{}
	VideoIDs    []VideoID // creation order
}

type ChannelView struct {
	Name            string
	Description     string
	SubscriberCount uint32
	VideoAmount     uint32
	Owner           string
}

func (c *Channel) View() ChannelView {
	return ChannelView{
		Name:            c.Name,
		Description:     c.Description,
		SubscriberCount: uint32(len(c.Subscribers)),
		VideoAmount:     uint32(len(c.VideoIDs)),
		Owner:           c.Owner,
	}
}

type ChannelEntry struct {
	ID   ChannelID
	Info ChannelView
}
