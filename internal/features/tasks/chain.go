package tasks

// EvaluateChain сообщает, закрыта ли группа заданий целиком.
// groupIDs — задания группы, completedIDs — выполненные в текущем периоде.
// Пустая группа цепочку не закрывает.
func EvaluateChain(completedIDs, groupIDs []int64) bool {
	if len(groupIDs) == 0 {
		return false
	}
	done := make(map[int64]struct{}, len(completedIDs))
	for _, id := range completedIDs {
		done[id] = struct{}{}
	}
	for _, id := range groupIDs {
		if _, ok := done[id]; !ok {
			return false
		}
	}
	return true
}
