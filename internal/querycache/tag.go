package querycache

// ListID — идентификатор тега уровня списка.
const ListID = "LIST"

// Tag помечает записи кэша и объявляется мутациями для инвалидации.
type Tag struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ItemTag возвращает тег отдельного ресурса.
func ItemTag(typ, id string) Tag {
	return Tag{Type: typ, ID: id}
}

// ListTag возвращает тег коллекции ресурсов.
func ListTag(typ string) Tag {
	return Tag{Type: typ, ID: ListID}
}

// ListWithItems возвращает тег списка и по тегу на каждый элемент.
func ListWithItems(typ string, ids ...string) []Tag {
	tags := make([]Tag, 0, len(ids)+1)
	for _, id := range ids {
		tags = append(tags, ItemTag(typ, id))
	}
	return append(tags, ListTag(typ))
}

func (t Tag) String() string {
	return t.Type + ":" + t.ID
}
